package types

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DataType is the logical type of a column.
type DataType int

const (
	NullType DataType = iota
	StringType
	LongType
	DoubleType
	BooleanType
	TimestampType
	// WindowType holds a Window, the result of grouping by an event-time window.
	WindowType
	// ArrayType is an array of strings, produced by split.
	ArrayType
)

func (t DataType) String() string {
	switch t {
	case StringType:
		return "string"
	case LongType:
		return "long"
	case DoubleType:
		return "double"
	case BooleanType:
		return "boolean"
	case TimestampType:
		return "timestamp"
	case WindowType:
		return "struct<start:timestamp,end:timestamp>"
	case ArrayType:
		return "array<string>"
	default:
		return "null"
	}
}

// SQLName is the name used in DDL strings.
func (t DataType) SQLName() string {
	switch t {
	case WindowType:
		return "STRUCT<start: TIMESTAMP, end: TIMESTAMP>"
	case ArrayType:
		return "ARRAY<STRING>"
	default:
		return strings.ToUpper(t.String())
	}
}

func (t DataType) Numeric() bool {
	return t == LongType || t == DoubleType
}

// ParseDataType accepts the common SQL spellings of the supported types.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "varchar", "text", "char":
		return StringType, nil
	case "long", "bigint", "int", "integer", "smallint", "short", "tinyint", "byte":
		return LongType, nil
	case "double", "float", "real", "decimal":
		return DoubleType, nil
	case "boolean", "bool":
		return BooleanType, nil
	case "timestamp", "date", "datetime":
		return TimestampType, nil
	case "array<string>":
		return ArrayType, nil
	default:
		return NullType, errors.Errorf("unsupported data type %q", name)
	}
}

// Window is an event-time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return "{" + FormatTime(w.Start) + ", " + FormatTime(w.End) + "}"
}

// MergeTypes widens two inferred types into one that holds both.
func MergeTypes(a, b DataType) DataType {
	switch {
	case a == b:
		return a
	case a == NullType:
		return b
	case b == NullType:
		return a
	case a.Numeric() && b.Numeric():
		return DoubleType
	default:
		return StringType
	}
}
