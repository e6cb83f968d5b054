package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is an opaque payload stored byte for byte. A nil Document is NULL.
type Document []byte

func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return string(d), nil
}

func (d *Document) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(Document(nil), v...)
	case string:
		*d = Document(v)
	default:
		return fmt.Errorf("unsupported document type %T", src)
	}
	return nil
}

// MarshalJSON embeds valid JSON as is and anything else as a JSON string.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(d) {
		return d, nil
	}
	return json.Marshal(string(d))
}

func (d *Document) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = nil
		return nil
	}
	*d = append(Document(nil), data...)
	return nil
}
