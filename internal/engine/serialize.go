package engine

// Serializable is implemented by composite values that opt fields into
// serialization. Only the returned fields cross the wire; there is no
// blanket reflection.
type Serializable interface {
	SerializableFields() map[string]any
}

// Serialize converts a live value into its transmission-safe form. Scalars
// pass through, a game object collapses to an {id} reference (never its
// own fields, so serialization terminates on circular graphs), and other
// composites recurse.
func Serialize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Object:
		return map[string]any{"id": t.ID()}
	case Serializable:
		fields := t.SerializableFields()
		out := make(map[string]any, len(fields))
		for key, value := range fields {
			out[key] = Serialize(value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			out[key] = Serialize(value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, value := range t {
			out[i] = Serialize(value)
		}
		return out
	default:
		return v
	}
}

// Deserialize is the inverse: {id} references resolve to live objects via
// lookup. Unresolved references pass the raw value through; callers
// validate resolved references before use.
func Deserialize(v any, lookup func(id string) (Object, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := referenceID(t); ok {
			if obj, found := lookup(ref); found {
				return obj
			}
			return v
		}
		out := make(map[string]any, len(t))
		for key, value := range t {
			out[key] = Deserialize(value, lookup)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, value := range t {
			out[i] = Deserialize(value, lookup)
		}
		return out
	default:
		return v
	}
}

func referenceID(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	ref, ok := m["id"].(string)
	return ref, ok
}
