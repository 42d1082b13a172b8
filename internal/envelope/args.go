package envelope

import "math"

// Args is a string-keyed map of small scalar parameters. The accessors accept
// every integer width msgpack may produce.
type Args map[string]any

// Has reports whether key is present, even with a nil value.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// IsNil reports whether key is present with an explicit nil value.
func (a Args) IsNil(key string) bool {
	v, ok := a[key]
	return ok && v == nil
}

// String returns a required string value.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", &FieldError{Field: key, Missing: true}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: key, Want: "string"}
	}
	return s, nil
}

// OptString returns an optional string value; ok is false when absent or nil.
func (a Args) OptString(key string) (s string, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", false, &FieldError{Field: key, Want: "string"}
	}
	return s, true, nil
}

// Bool returns a required boolean value.
func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return false, &FieldError{Field: key, Missing: true}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &FieldError{Field: key, Want: "bool"}
	}
	return b, nil
}

// OptBool returns an optional boolean value.
func (a Args) OptBool(key string) (b bool, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return false, false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, false, &FieldError{Field: key, Want: "bool"}
	}
	return b, true, nil
}

// Int returns a required integer value.
func (a Args) Int(key string) (int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, &FieldError{Field: key, Missing: true}
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, &FieldError{Field: key, Want: "integer"}
	}
	return n, nil
}

// OptInt returns an optional integer value.
func (a Args) OptInt(key string) (n int64, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return 0, false, nil
	}
	n, isInt := toInt64(v)
	if !isInt {
		return 0, false, &FieldError{Field: key, Want: "integer"}
	}
	return n, true, nil
}

// Bytes returns a required binary value.
func (a Args) Bytes(key string) ([]byte, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, &FieldError{Field: key, Missing: true}
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, &FieldError{Field: key, Want: "bytes"}
	}
	return b, nil
}

// OptBytes returns an optional binary value.
func (a Args) OptBytes(key string) (b []byte, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return nil, false, nil
	}
	b, isBytes := v.([]byte)
	if !isBytes {
		return nil, false, &FieldError{Field: key, Want: "bytes"}
	}
	return b, true, nil
}

// Strings returns a required array of strings.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, &FieldError{Field: key, Missing: true}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &FieldError{Field: key, Want: "array of strings"}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &FieldError{Field: key, Want: "array of strings"}
		}
		out = append(out, s)
	}
	return out, nil
}

// Map returns an optional nested map.
func (a Args) Map(key string) (m Args, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return nil, false, nil
	}
	switch t := v.(type) {
	case map[string]any:
		return Args(t), true, nil
	case Args:
		return t, true, nil
	}
	return nil, false, &FieldError{Field: key, Want: "map"}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
