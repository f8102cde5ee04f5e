// Package delta makes arbitrary nested game state transparently diffable.
//
// State opts into tracking by wrapping fields in Value, Sequence or Table;
// every mutation through those wrappers is recorded, path-keyed, into the
// owning Root's buffer. Flushing the buffer yields the minimal set of
// changes since the previous flush. Untracked fields coexist freely: the
// line between tracked and private bookkeeping state is explicit wrapping,
// not type.
//
// A Root and everything attached to it belong to a single goroutine (the
// match worker); none of the types here lock.
package delta

// Removed is the removal sentinel recorded when a tracked key or index is
// deleted. It is distinguishable from setting a key to an empty value:
// applying it deletes the key.
const Removed = "&RM"

// LenKey is the pseudo-key under which a sequence tracks its own length,
// so truncation is representable without resending remaining elements.
const LenKey = "&LEN"

// Encoder converts a live value into its transmission-safe form at record
// time. The game engine installs one that collapses game objects into id
// references.
type Encoder func(any) any

// Root owns the delta buffers for one state tree: the true stream plus one
// stream per registered viewer, so hidden-information games can send each
// client a view consistent with what it may see.
type Root struct {
	enc      Encoder
	buf      map[string]any
	views    map[string]map[string]any
	diverged map[string]bool
}

// NewRoot creates a root with the given value encoder. A nil encoder passes
// values through unchanged.
func NewRoot(enc Encoder) *Root {
	if enc == nil {
		enc = func(v any) any { return v }
	}
	return &Root{
		enc:      enc,
		buf:      map[string]any{},
		views:    map[string]map[string]any{},
		diverged: map[string]bool{},
	}
}

// AddViewer starts maintaining an obscured delta stream for viewerID. The
// new stream starts from the current true buffer.
func (r *Root) AddViewer(viewerID string) {
	if _, ok := r.views[viewerID]; ok {
		return
	}
	r.views[viewerID] = deepCopy(r.buf)
}

// RemoveViewer drops a viewer's stream.
func (r *Root) RemoveViewer(viewerID string) {
	delete(r.views, viewerID)
	delete(r.diverged, viewerID)
}

// record writes one change into the true buffer and every view buffer. A
// viewer present in overrides receives the override instead of the true
// value and is marked diverged.
func (r *Root) record(path Path, value any, deleted bool, overrides map[string]any) {
	var encoded any
	if deleted {
		encoded = Removed
	} else {
		encoded = r.enc(value)
	}
	setPath(r.buf, path, encoded)
	for viewerID, view := range r.views {
		viewValue := encoded
		if overrides != nil {
			if override, ok := overrides[viewerID]; ok {
				viewValue = r.enc(override)
				r.diverged[viewerID] = true
			}
		}
		setPath(view, path, viewValue)
	}
}

// recordView writes a change into a single viewer's stream only, leaving
// the true buffer untouched. Used when a property is obscured or revealed
// without its true value changing.
func (r *Root) recordView(viewerID string, path Path, value any) {
	view, ok := r.views[viewerID]
	if !ok {
		return
	}
	setPath(view, path, r.enc(value))
	r.diverged[viewerID] = true
}

// HasPending reports whether any change accumulated since the last flush.
func (r *Root) HasPending() bool {
	return len(r.buf) > 0
}

// Pending returns a copy of the true delta accumulated since the last
// flush.
func (r *Root) Pending() map[string]any {
	return deepCopy(r.buf)
}

// PendingView returns a copy of viewerID's delta stream. Unregistered
// viewers observe the true stream.
func (r *Root) PendingView(viewerID string) map[string]any {
	view, ok := r.views[viewerID]
	if !ok {
		return r.Pending()
	}
	return deepCopy(view)
}

// Diverged reports whether viewerID's pending stream differs from the true
// stream.
func (r *Root) Diverged(viewerID string) bool {
	return r.diverged[viewerID]
}

// Flush clears the true buffer and every view buffer. Callers copy what
// they need via Pending/PendingView first; the flush happens exactly once
// per state-changing event.
func (r *Root) Flush() {
	r.buf = map[string]any{}
	for viewerID := range r.views {
		r.views[viewerID] = map[string]any{}
	}
	r.diverged = map[string]bool{}
}
