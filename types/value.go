package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

var ErrTypeMismatch = errors.New("type mismatch")

// Row is one record, positionally matching a Schema.
type Row []any

func (r Row) Copy() Row {
	c := make(Row, len(r))
	copy(c, r)
	return c
}

func (r Row) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = Format(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func FormatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000")
	}
	return t.Format(timeLayout)
}

// Format renders a value the way the console sink shows it.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return FormatTime(x)
	case Window:
		return x.String()
	case []string:
		return "[" + strings.Join(x, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

// TypeOf reports the DataType of a normalized value.
func TypeOf(v any) DataType {
	switch v.(type) {
	case string:
		return StringType
	case int64:
		return LongType
	case float64:
		return DoubleType
	case bool:
		return BooleanType
	case time.Time:
		return TimestampType
	case Window:
		return WindowType
	case []string:
		return ArrayType
	default:
		return NullType
	}
}

// Parse converts text to a value of dataType. Empty text is null.
func Parse(text string, dataType DataType) (any, error) {
	if text == "" {
		return nil, nil
	}
	switch dataType {
	case StringType:
		return text, nil
	case LongType:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, errors.WithMessagef(ErrTypeMismatch, "%q is not a long", text)
		}
		return v, nil
	case DoubleType:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, errors.WithMessagef(ErrTypeMismatch, "%q is not a double", text)
		}
		return v, nil
	case BooleanType:
		v, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, errors.WithMessagef(ErrTypeMismatch, "%q is not a boolean", text)
		}
		return v, nil
	case TimestampType:
		v, err := dateparse.ParseIn(strings.TrimSpace(text), time.UTC)
		if err != nil {
			return nil, errors.WithMessagef(ErrTypeMismatch, "%q is not a timestamp", text)
		}
		return v, nil
	case ArrayType:
		return strings.Split(text, ","), nil
	default:
		return nil, errors.Errorf("can't parse into %s", dataType)
	}
}

// InferType guesses the narrowest type able to hold text.
func InferType(text string) DataType {
	text = strings.TrimSpace(text)
	if text == "" {
		return NullType
	}
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return LongType
	}
	if _, err := strconv.ParseFloat(text, 64); err == nil {
		return DoubleType
	}
	if strings.EqualFold(text, "true") || strings.EqualFold(text, "false") {
		return BooleanType
	}
	if strings.ContainsAny(text, "-:/") {
		if _, err := dateparse.ParseStrict(text); err == nil {
			return TimestampType
		}
	}
	return StringType
}

// Normalize converts Go values into the canonical representation of dataType.
func Normalize(v any, dataType DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dataType {
	case StringType:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		default:
			return Format(v), nil
		}
	case LongType:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, errors.WithMessagef(ErrTypeMismatch, "%v is not a long", x)
			}
			return int64(x), nil
		case float32:
			return Normalize(float64(x), dataType)
		case string:
			return Parse(x, dataType)
		}
	case DoubleType:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case string:
			return Parse(x, dataType)
		default:
			if l, err := Normalize(v, LongType); err == nil {
				return float64(l.(int64)), nil
			}
		}
	case BooleanType:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return Parse(x, dataType)
		}
	case TimestampType:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return Parse(x, dataType)
		case int64:
			return time.UnixMilli(x).UTC(), nil
		case float64:
			return time.UnixMilli(int64(x)).UTC(), nil
		}
	case WindowType:
		if w, ok := v.(Window); ok {
			return w, nil
		}
	case ArrayType:
		switch x := v.(type) {
		case []string:
			return x, nil
		case []any:
			out := make([]string, len(x))
			for i, e := range x {
				out[i] = Format(e)
			}
			return out, nil
		}
	}
	return nil, errors.WithMessagef(ErrTypeMismatch, "can't use %T as %s", v, dataType)
}

// Compare orders two normalized values. Null sorts first.
func Compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return compareOrdered(x, y), nil
		case float64:
			return compareOrdered(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return compareOrdered(x, y), nil
		case int64:
			return compareOrdered(x, float64(y)), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case Window:
		if y, ok := b.(Window); ok {
			if c := x.Start.Compare(y.Start); c != 0 {
				return c, nil
			}
			return x.End.Compare(y.End), nil
		}
	}
	return 0, errors.WithMessagef(ErrTypeMismatch, "can't compare %T with %T", a, b)
}

func compareOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func Equal(a, b any) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

// KeyOf encodes values into a string usable as a map key for grouping and joins.
func KeyOf(values ...any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0)
		}
		switch x := v.(type) {
		case nil:
			b.WriteString("n")
		case time.Time:
			b.WriteString("t")
			b.WriteString(strconv.FormatInt(x.UnixNano(), 10))
		case Window:
			b.WriteString("w")
			b.WriteString(strconv.FormatInt(x.Start.UnixNano(), 10))
			b.WriteByte('-')
			b.WriteString(strconv.FormatInt(x.End.UnixNano(), 10))
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				b.WriteString("i")
				b.WriteString(strconv.FormatInt(int64(x), 10))
			} else {
				b.WriteString("f")
				b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			}
		case int64:
			b.WriteString("i")
			b.WriteString(strconv.FormatInt(x, 10))
		case bool:
			b.WriteString("b")
			b.WriteString(strconv.FormatBool(x))
		default:
			b.WriteString("s")
			b.WriteString(Format(x))
		}
	}
	return b.String()
}
