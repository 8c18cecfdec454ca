package tree

// Typed read helpers for non-lazy fields. Domain wrappers use these where
// the field is known to be declared; an unset field reads as the zero value.

func (m *Model) Str(field string) string {
	if v, ok := m.values[field].(string); ok {
		return v
	}
	return ""
}

func (m *Model) Int(field string) int64 {
	switch v := m.values[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (m *Model) Float(field string) float64 {
	switch v := m.values[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func (m *Model) Bool(field string) bool {
	switch v := m.values[field].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// Value returns the raw stored value without lazy-load or validation.
func (m *Model) Value(field string) any {
	return m.values[field]
}

// IsSet reports whether the field holds a non-nil value.
func (m *Model) IsSet(field string) bool {
	v, ok := m.values[field]
	return ok && v != nil
}
