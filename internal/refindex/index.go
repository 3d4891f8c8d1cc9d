package refindex

// Row is one (ID, name) pair read from the reference store.
type Row struct {
	ID   int64
	Name string
}

// Index maps normalized system names to their reference IDs. It is built
// once and never mutated afterwards.
type Index struct {
	ids map[string]int64
}

// New builds an Index from rows. Rows with an empty name are skipped. When
// two rows normalize to the same key the first one wins; the number of
// discarded duplicates is returned.
func New(rows []Row) (*Index, int) {
	ids := make(map[string]int64, len(rows))
	dupes := 0
	for _, r := range rows {
		key := NormalizeName(r.Name)
		if key == "" {
			continue
		}
		if _, ok := ids[key]; ok {
			dupes++
			continue
		}
		ids[key] = r.ID
	}
	return &Index{ids: ids}, dupes
}

// Resolve returns the ID for name. Absence is reported through ok, not as
// an error.
func (x *Index) Resolve(name string) (id int64, ok bool) {
	if x == nil {
		return 0, false
	}
	key := NormalizeName(name)
	if key == "" {
		return 0, false
	}
	id, ok = x.ids[key]
	return id, ok
}

// Len returns the number of distinct names in the index.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ids)
}
