package graph

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is free-form entity metadata persisted as a JSON text column.
type Metadata map[string]any

// Value implements driver.Valuer. A nil map is stored as "{}".
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for TEXT and BLOB columns.
func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning metadata: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshalling metadata: %w", err)
	}
	*m = out
	return nil
}

// Aliases is an ordered alias list persisted as a JSON array.
type Aliases []string

func (a Aliases) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, fmt.Errorf("marshalling aliases: %w", err)
	}
	return string(b), nil
}

func (a *Aliases) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = Aliases{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning aliases: unsupported type %T", value)
	}
	out := []string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("unmarshalling aliases: %w", err)
		}
	}
	*a = out
	return nil
}
