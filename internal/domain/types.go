package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice stores a JSON array in a TEXT column.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal string slice: %w", err)
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*s = StringSlice{}
			return nil
		}
		return json.Unmarshal([]byte(v), s)
	case []byte:
		if len(v) == 0 {
			*s = StringSlice{}
			return nil
		}
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}
}

// Contains reports whether the slice holds v exactly.
func (s StringSlice) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// IDMap stores per-source external identifiers as a JSON object in a TEXT
// column, keyed by source name.
type IDMap map[string]string

func (m IDMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal id map: %w", err)
	}
	return string(b), nil
}

func (m *IDMap) Scan(value any) error {
	if value == nil {
		*m = IDMap{}
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*m = IDMap{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	case []byte:
		if len(v) == 0 {
			*m = IDMap{}
			return nil
		}
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into IDMap", value)
	}
}
