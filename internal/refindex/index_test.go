package refindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex_Resolve(t *testing.T) {
	idx, dupes := New([]Row{
		{ID: 1, Name: "Sol"},
		{ID: 2, Name: "Wolf 359"},
		{ID: 3, Name: "LHS  3447"},
	})
	assert.Equal(t, 0, dupes)
	assert.Equal(t, 3, idx.Len())

	id, ok := idx.Resolve("sol")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = idx.Resolve("  WOLF   359 ")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	id, ok = idx.Resolve("lhs 3447")
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestIndex_ResolveMissing(t *testing.T) {
	idx, _ := New([]Row{{ID: 1, Name: "Sol"}})

	_, ok := idx.Resolve("Nowhere")
	assert.False(t, ok)

	_, ok = idx.Resolve("")
	assert.False(t, ok)
}

func TestIndex_FirstDuplicateWins(t *testing.T) {
	idx, dupes := New([]Row{
		{ID: 10, Name: "Achenar"},
		{ID: 11, Name: "ACHENAR"},
		{ID: 12, Name: " achenar "},
	})
	assert.Equal(t, 2, dupes)
	assert.Equal(t, 1, idx.Len())

	id, ok := idx.Resolve("Achenar")
	assert.True(t, ok)
	assert.Equal(t, int64(10), id)
}

func TestIndex_SkipsEmptyNames(t *testing.T) {
	idx, _ := New([]Row{{ID: 1, Name: ""}, {ID: 2, Name: "   "}, {ID: 3, Name: "Sol"}})
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_NilSafe(t *testing.T) {
	var idx *Index
	_, ok := idx.Resolve("Sol")
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
}
