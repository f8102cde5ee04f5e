package delta

// Sequence is a tracked ordered list. All structural mutation goes through
// the methods here; only they can emit correct length and removal deltas.
// The length is tracked as its own property under LenKey.
type Sequence[T any] struct {
	root  *Root
	path  Path
	items []T
}

// NewSequence registers a tracked list at path with its initial elements.
func NewSequence[T any](root *Root, path Path, initial []T) *Sequence[T] {
	s := &Sequence[T]{root: root, path: path}
	s.items = append(s.items, initial...)
	for i, item := range s.items {
		root.record(path.Index(i), item, false, nil)
	}
	s.recordLen()
	return s
}

// Len returns the element count.
func (s *Sequence[T]) Len() int {
	return len(s.items)
}

// At returns the element at i.
func (s *Sequence[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	return s.items[i], true
}

// Slice returns a copy of the elements.
func (s *Sequence[T]) Slice() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Push appends elements.
func (s *Sequence[T]) Push(items ...T) {
	start := len(s.items)
	s.items = append(s.items, items...)
	for i := start; i < len(s.items); i++ {
		s.root.record(s.path.Index(i), s.items[i], false, nil)
	}
	s.recordLen()
}

// Pop removes and returns the last element.
func (s *Sequence[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	last := len(s.items) - 1
	item := s.items[last]
	s.items = s.items[:last]
	s.root.record(s.path.Index(last), nil, true, nil)
	s.recordLen()
	return item, true
}

// Shift removes and returns the first element. Every surviving element
// changes index, so each is re-recorded.
func (s *Sequence[T]) Shift() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	item := s.items[0]
	s.items = append(s.items[:0], s.items[1:]...)
	for i, v := range s.items {
		s.root.record(s.path.Index(i), v, false, nil)
	}
	s.root.record(s.path.Index(len(s.items)), nil, true, nil)
	s.recordLen()
	return item, true
}

// Unshift prepends elements. Every surviving element changes index, so the
// whole list is re-recorded.
func (s *Sequence[T]) Unshift(items ...T) {
	if len(items) == 0 {
		return
	}
	s.items = append(append([]T(nil), items...), s.items...)
	for i, v := range s.items {
		s.root.record(s.path.Index(i), v, false, nil)
	}
	s.recordLen()
}

// RemoveAt removes and returns the element at i. Elements past i change
// index, so each is re-recorded and the vacated tail slot is removed.
func (s *Sequence[T]) RemoveAt(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	item := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.root.record(s.path.Index(j), s.items[j], false, nil)
	}
	s.root.record(s.path.Index(len(s.items)), nil, true, nil)
	s.recordLen()
	return item, true
}

// SetAt replaces the element at i. Out-of-range writes are inert, matching
// the model's untracked-write behavior.
func (s *Sequence[T]) SetAt(i int, item T) {
	if i < 0 || i >= len(s.items) {
		return
	}
	s.items[i] = item
	s.root.record(s.path.Index(i), item, false, nil)
}

func (s *Sequence[T]) recordLen() {
	s.root.record(s.path.Child(LenKey), len(s.items), false, nil)
}
