package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// DateTimeFormat is the layout time values are stored with in string columns.
const DateTimeFormat = "2006-01-02 15:04:05"

// TypeMapper handles mapping between Go values and the two column types of a
// table definition.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// IsCollection reports whether value is a slice, array, map or struct that
// must be serialized before it can be stored.
func (tm *TypeMapper) IsCollection(value interface{}) bool {
	if value == nil {
		return false
	}
	switch value.(type) {
	case []byte, time.Time, json.RawMessage:
		return false
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return true
	default:
		return false
	}
}

// Serialize encodes a collection value into its storage form.
func (tm *TypeMapper) Serialize(value interface{}) (string, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return string(raw), nil
	}
	// nil slices and maps are stored as their empty form, not "null"
	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
		if rv.Kind() == reflect.Map {
			return "{}", nil
		}
		return "[]", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("cannot serialize %T: %w", value, err)
	}
	return string(data), nil
}

// ToDBValue converts a Go value to the bound argument for a column of type
// colType. Collections are serialized first.
func (tm *TypeMapper) ToDBValue(value interface{}, colType core.ColumnType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	if valuer, ok := value.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, nil
		}
		value = val
	}

	if tm.IsCollection(value) {
		if colType != core.ColumnString {
			return nil, fmt.Errorf("cannot store %T in a %s column", value, colType)
		}
		return tm.Serialize(value)
	}

	switch colType {
	case core.ColumnInteger:
		return tm.toInt64(value)
	case core.ColumnString:
		return tm.toString(value)
	default:
		return nil, fmt.Errorf("unsupported column type %q", colType)
	}
}

// FromDBValue normalizes a scanned value to int64, string or nil.
func (tm *TypeMapper) FromDBValue(value interface{}, colType core.ColumnType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch colType {
	case core.ColumnInteger:
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		return tm.toInt64(value)
	case core.ColumnString:
		return tm.toString(value)
	default:
		return value, nil
	}
}

func (tm *TypeMapper) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return tm.fromUint(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return tm.fromUint(v)
	case float32:
		return tm.fromFloat(float64(v))
	case float64:
		return tm.fromFloat(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (tm *TypeMapper) fromUint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func (tm *TypeMapper) fromFloat(v float64) (int64, error) {
	if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
		return 0, fmt.Errorf("value %g is not a whole number", v)
	}
	return int64(v), nil
}

func (tm *TypeMapper) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(DateTimeFormat), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", value)
	}
}

// NormalizeKey converts a primary key value to the comparable form used to
// deduplicate keys and index keyed results.
func (tm *TypeMapper) NormalizeKey(value interface{}, colType core.ColumnType) (interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf("primary key value cannot be nil")
	}
	return tm.ToDBValue(value, colType)
}
