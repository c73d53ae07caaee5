package core

import (
	"encoding/json"
	"fmt"
)

// Row is one record keyed by column name. Rows returned by the CRUD layer
// only contain columns of the table definition, with values normalized to
// int64, string or nil according to the column type.
type Row map[string]interface{}

// Int64 returns the integer value of column. ok is false when the column is
// absent, NULL or not an integer.
func (r Row) Int64(column string) (value int64, ok bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

// String returns the text value of column. ok is false when the column is
// absent, NULL or not a string.
func (r Row) String(column string) (value string, ok bool) {
	v, ok := r[column].(string)
	return v, ok
}

// IsNull reports whether column is present and NULL.
func (r Row) IsNull(column string) bool {
	v, ok := r[column]
	return ok && v == nil
}

// Has reports whether column is present in the row.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// Decode unmarshals a serialized collection column into dst.
func (r Row) Decode(column string, dst interface{}) error {
	s, ok := r.String(column)
	if !ok {
		return fmt.Errorf("column %q does not hold a serialized value", column)
	}
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("failed to decode column %q: %w", column, err)
	}
	return nil
}
