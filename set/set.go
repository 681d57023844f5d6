// Package set provides a minimal generic set.
package set

// Set is an unordered collection of unique comparable values. The zero value
// is an empty set ready to use.
type Set[T comparable] struct {
	set map[T]struct{}
}

// New returns a set holding items.
func New[T comparable](items ...T) *Set[T] {
	s := &Set[T]{}
	for _, item := range items {
		s.Insert(item)
	}
	return s
}

func (s *Set[T]) Insert(k T) {
	if s.set == nil {
		s.set = make(map[T]struct{})
	}
	s.set[k] = struct{}{}
}

func (s *Set[T]) Contains(k T) bool {
	_, ok := s.set[k]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.set)
}
