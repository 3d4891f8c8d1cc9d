package refindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Sol", "sol"},
		{"  Sol  ", "sol"},
		{"LHS   3447", "lhs 3447"},
		{"Col 285\tSector\nAB-C d1", "col 285 sector ab-c d1"},
		{"HIP 12345", "hip 12345"},
		{"STRASSE", "strasse"},
		{"", ""},
		{" \t\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	for _, name := range []string{"Sol", "  Wolf   359 ", "Ćoke  Hàrbour"} {
		once := NormalizeName(name)
		assert.Equal(t, once, NormalizeName(once))
	}
}
