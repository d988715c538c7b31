package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cents is an amount in minor units. It is serialized to JSON as a decimal string
// so clients never round it through a float.
type Cents int64

func (c Cents) String() string {
	return strconv.FormatInt(int64(c), 10)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cents: %w", err)
		}
		*c = Cents(n)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cents: %w", err)
	}
	*c = Cents(n)
	return nil
}

// JSONMap is an opaque key/value bag stored as JSONB.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("json map: %w", err)
	}
	return string(data), nil
}

func (m *JSONMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("json map: unsupported type %T", src)
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("json map: %w", err)
	}
	*m = out
	return nil
}

// Clone returns a shallow copy.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value under key when it is a string.
func (m JSONMap) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
