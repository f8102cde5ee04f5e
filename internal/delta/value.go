package delta

// Value is a single tracked property. Assignment through Set recomputes the
// stored value and notifies the owning root; the delta for a flush carries
// only the final value, however many times Set ran.
type Value[T any] struct {
	root     *Root
	path     Path
	v        T
	obscured map[string]T
}

// NewValue registers a tracked property at path with its initial value. The
// initial value is recorded so the first flush carries complete state.
func NewValue[T any](root *Root, path Path, initial T) *Value[T] {
	p := &Value[T]{root: root, path: path, v: initial}
	root.record(path, initial, false, nil)
	return p
}

// Get returns the true value.
func (p *Value[T]) Get() T {
	return p.v
}

// GetFor returns the value as seen by viewerID: the per-viewer override if
// one is set, else the true value.
func (p *Value[T]) GetFor(viewerID string) T {
	if override, ok := p.obscured[viewerID]; ok {
		return override
	}
	return p.v
}

// Set stores a new true value and records the change. Viewers holding an
// override keep seeing their override.
func (p *Value[T]) Set(v T) {
	p.v = v
	p.root.record(p.path, v, false, p.overrides())
}

// Obscure installs a per-viewer override, so viewerID is sent value in
// place of the true state from now on.
func (p *Value[T]) Obscure(viewerID string, value T) {
	if p.obscured == nil {
		p.obscured = map[string]T{}
	}
	p.obscured[viewerID] = value
	p.root.recordView(viewerID, p.path, value)
}

// Reveal drops viewerID's override; their stream catches up to the true
// value.
func (p *Value[T]) Reveal(viewerID string) {
	if _, ok := p.obscured[viewerID]; !ok {
		return
	}
	delete(p.obscured, viewerID)
	p.root.recordView(viewerID, p.path, p.v)
}

// Obscured reports whether viewerID currently holds an override.
func (p *Value[T]) Obscured(viewerID string) bool {
	_, ok := p.obscured[viewerID]
	return ok
}

func (p *Value[T]) overrides() map[string]any {
	if len(p.obscured) == 0 {
		return nil
	}
	out := make(map[string]any, len(p.obscured))
	for viewerID, value := range p.obscured {
		out[viewerID] = value
	}
	return out
}
