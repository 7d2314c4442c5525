package domain

// CopyVariables returns a copy of vars that shares no nested map or slice with it.
func CopyVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue copies decoded JSON-like values recursively. Other values are
// returned as is.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyVariables(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	default:
		return v
	}
}
