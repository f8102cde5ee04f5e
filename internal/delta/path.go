package delta

import (
	"strconv"
	"strings"
)

// Path is the ordered list of keys from the state root to a tracked
// property. A property's path never changes after creation; only its value
// does.
type Path []string

// NewPath builds a path from its keys.
func NewPath(keys ...string) Path {
	p := make(Path, len(keys))
	copy(p, keys)
	return p
}

// Child returns a new path one key deeper. The receiver is not modified.
func (p Path) Child(key string) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = key
	return child
}

// Index returns a new path descending into a sequence element.
func (p Path) Index(i int) Path {
	return p.Child(strconv.Itoa(i))
}

// String renders the path for logs and errors.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// setPath writes value at path inside tree, creating intermediate maps. A
// non-map intermediate (a scalar recorded earlier in the same flush window)
// is replaced, since the later structural write supersedes it.
func setPath(tree map[string]any, path Path, value any) {
	if len(path) == 0 {
		return
	}
	node := tree
	for _, key := range path[:len(path)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}

// deepCopy clones a delta tree.
func deepCopy(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		if child, ok := value.(map[string]any); ok {
			out[key] = deepCopy(child)
			continue
		}
		out[key] = value
	}
	return out
}

// Apply merges a delta tree into state: removal sentinels delete keys,
// nested maps recurse, everything else overwrites. Clients and the replay
// reader use it to reconstruct state from a gamelog's delta list.
func Apply(state, delta map[string]any) {
	for key, value := range delta {
		if value == Removed {
			delete(state, key)
			continue
		}
		if child, ok := value.(map[string]any); ok {
			existing, ok := state[key].(map[string]any)
			if !ok {
				existing = map[string]any{}
				state[key] = existing
			}
			Apply(existing, child)
			continue
		}
		state[key] = value
	}
}
