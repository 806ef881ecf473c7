package model

// RefSet is an append-only, insertion-ordered set of identifiers.
// Adding an id that is already present is a no-op.
type RefSet []string

// Add appends id if it is not already present and reports whether it was added
func (s *RefSet) Add(id string) bool {
	if id == "" || s.Contains(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Contains reports whether id is in the set
func (s RefSet) Contains(id string) bool {
	for _, existing := range s {
		if existing == id {
			return true
		}
	}
	return false
}

// Len returns the number of ids in the set
func (s RefSet) Len() int {
	return len(s)
}

// Slice returns a copy of the ids in insertion order
func (s RefSet) Slice() []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
