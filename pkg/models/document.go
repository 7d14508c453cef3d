// Package models contains domain models for configd.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Document is a schema-less configuration payload. It is stored as a jsonb
// column and passed around by value; an empty or nil Document is valid and
// means "no configuration".
type Document map[string]any

// Merge returns a new document where the override's top-level keys replace
// the base's matching keys wholesale. Nested objects are NOT deep-merged: an
// object present in the override fully replaces the base's object under the
// same key. Neither input is modified.
func (d Document) Merge(override Document) Document {
	out := make(Document, len(d)+len(override))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		// Documents come from JSON columns or literals; marshal cannot
		// fail for those inputs.
		return Document{}
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return Document{}
	}
	return out
}

// SetPath sets a value at a nested path, creating intermediate objects as
// needed. A non-object value in the middle of the path is overwritten.
func (d Document) SetPath(path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := d
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(Document)
		if !ok {
			if m, isMap := cur[key].(map[string]any); isMap {
				next = Document(m)
			} else {
				next = Document{}
			}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// String returns the string value at key, or def when absent or not a string.
func (d Document) String(key, def string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer value at key, or def when absent. JSON numbers
// decode as float64, so both are accepted.
func (d Document) Int(key string, def int) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the float value at key, or def when absent.
func (d Document) Float(key string, def float64) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns the bool value at key, or def when absent.
func (d Document) Bool(key string, def bool) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return def
}

// Value implements driver.Valuer for jsonb columns.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for jsonb columns.
func (d *Document) Scan(value any) error {
	if value == nil {
		*d = Document{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan Document: unsupported type %T", value)
	}
	if len(data) == 0 {
		*d = Document{}
		return nil
	}
	return json.Unmarshal(data, d)
}

// StringList is a JSON-encoded list of strings stored in a jsonb column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan StringList: unsupported type %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}
