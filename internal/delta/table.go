package delta

import "sort"

// Table is a tracked unordered string-keyed map.
type Table[T any] struct {
	root  *Root
	path  Path
	items map[string]T
}

// NewTable registers a tracked map at path.
func NewTable[T any](root *Root, path Path) *Table[T] {
	return &Table[T]{root: root, path: path, items: map[string]T{}}
}

// Len returns the entry count.
func (t *Table[T]) Len() int {
	return len(t.items)
}

// Get returns the value stored under key.
func (t *Table[T]) Get(key string) (T, bool) {
	v, ok := t.items[key]
	return v, ok
}

// Set stores value under key and records the change.
func (t *Table[T]) Set(key string, value T) {
	t.items[key] = value
	t.root.record(t.path.Child(key), value, false, nil)
}

// Delete removes key, recording the removal sentinel so clients delete the
// key rather than nulling it.
func (t *Table[T]) Delete(key string) bool {
	if _, ok := t.items[key]; !ok {
		return false
	}
	delete(t.items, key)
	t.root.record(t.path.Child(key), nil, true, nil)
	return true
}

// Keys returns the keys in sorted order.
func (t *Table[T]) Keys() []string {
	keys := make([]string, 0, len(t.items))
	for key := range t.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
