package column

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

type bindFn func(args []Bound) (Bound, error)

type function struct {
	name string
	args []Column
	bind bindFn
}

func (f *function) String() string {
	parts := make([]string, len(f.args))
	for i, a := range f.args {
		parts[i] = a.String()
	}
	return f.name + "(" + strings.Join(parts, ", ") + ")"
}

func (f *function) Bind(schema types.Schema) (Bound, error) {
	args := make([]Bound, len(f.args))
	for i, a := range f.args {
		b, err := a.Bind(schema)
		if err != nil {
			return Bound{}, err
		}
		args[i] = b
	}
	b, err := f.bind(args)
	if err != nil {
		return Bound{}, errors.WithMessagef(err, "cannot resolve %s", f)
	}
	return b, nil
}

func stringFunction(name string, c any, fn func(string) any, resultType types.DataType) Column {
	return &function{name: name, args: []Column{Of(c)}, bind: func(args []Bound) (Bound, error) {
		arg := args[0]
		if arg.Type != types.StringType && arg.Type != types.NullType {
			return Bound{}, errors.Errorf("%s is not a string", arg.Type)
		}
		return Bound{Type: resultType, Nullable: arg.Nullable, Eval: func(row types.Row) (any, error) {
			v, err := arg.Eval(row)
			if err != nil || v == nil {
				return nil, err
			}
			return fn(v.(string)), nil
		}}, nil
	}}
}

func Upper(c any) Column {
	return stringFunction("upper", c, func(s string) any { return strings.ToUpper(s) }, types.StringType)
}

func Lower(c any) Column {
	return stringFunction("lower", c, func(s string) any { return strings.ToLower(s) }, types.StringType)
}

func Trim(c any) Column {
	return stringFunction("trim", c, func(s string) any { return strings.TrimSpace(s) }, types.StringType)
}

func Length(c any) Column {
	return stringFunction("length", c, func(s string) any { return int64(utf8.RuneCountInString(s)) }, types.LongType)
}

// Split breaks a string on a literal separator. An empty separator splits on whitespace runs.
func Split(c any, separator string) Column {
	name := "split"
	return &function{name: name, args: []Column{Of(c), Lit(separator)}, bind: func(args []Bound) (Bound, error) {
		arg := args[0]
		if arg.Type != types.StringType && arg.Type != types.NullType {
			return Bound{}, errors.Errorf("%s is not a string", arg.Type)
		}
		return Bound{Type: types.ArrayType, Nullable: arg.Nullable, Eval: func(row types.Row) (any, error) {
			v, err := arg.Eval(row)
			if err != nil || v == nil {
				return nil, err
			}
			if separator == "" {
				return strings.Fields(v.(string)), nil
			}
			return strings.Split(v.(string), separator), nil
		}}, nil
	}}
}

// Concat joins the string forms of its arguments; any null argument makes the result null.
func Concat(cs ...any) Column {
	args := make([]Column, len(cs))
	for i, c := range cs {
		args[i] = Of(c)
	}
	return &function{name: "concat", args: args, bind: func(args []Bound) (Bound, error) {
		return Bound{Type: types.StringType, Nullable: true, Eval: func(row types.Row) (any, error) {
			var b strings.Builder
			for _, arg := range args {
				v, err := arg.Eval(row)
				if err != nil || v == nil {
					return nil, err
				}
				b.WriteString(types.Format(v))
			}
			return b.String(), nil
		}}, nil
	}}
}

// Coalesce returns the first non-null argument.
func Coalesce(cs ...any) Column {
	args := make([]Column, len(cs))
	for i, c := range cs {
		args[i] = Of(c)
	}
	return &function{name: "coalesce", args: args, bind: func(args []Bound) (Bound, error) {
		if len(args) == 0 {
			return Bound{}, errors.New("coalesce needs at least one argument")
		}
		resultType := types.NullType
		for _, arg := range args {
			if arg.Type == types.NullType {
				continue
			}
			if resultType != types.NullType && !comparableTypes(resultType, arg.Type) {
				return Bound{}, errors.Errorf("mixed argument types %s and %s", resultType, arg.Type)
			}
			resultType = types.MergeTypes(resultType, arg.Type)
		}
		return Bound{Type: resultType, Nullable: true, Eval: func(row types.Row) (any, error) {
			for _, arg := range args {
				v, err := arg.Eval(row)
				if err != nil {
					return nil, err
				}
				if v != nil {
					return types.Normalize(v, resultType)
				}
			}
			return nil, nil
		}}, nil
	}}
}

type explode struct {
	child Column
}

// Explode turns each element of an array column into its own row.
func Explode(c any) Column {
	return &explode{child: Of(c)}
}

func (e *explode) String() string {
	return "explode(" + e.child.String() + ")"
}

// Bind reports the element type; the generator itself runs in the projection.
func (e *explode) Bind(schema types.Schema) (Bound, error) {
	child, err := e.child.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	if child.Type != types.ArrayType {
		return Bound{}, errors.Errorf("cannot resolve %s: %s is not an array", e, child.Type)
	}
	return Bound{Type: types.StringType, Nullable: true, Eval: func(types.Row) (any, error) {
		return nil, ErrGeneratorContext
	}}, nil
}

// Generator returns the bound array producer when c is an explode.
func Generator(c Column, schema types.Schema) (EvalFn, bool, error) {
	e, ok := Unalias(c).(*explode)
	if !ok {
		return nil, false, nil
	}
	child, err := e.child.Bind(schema)
	if err != nil {
		return nil, true, err
	}
	if child.Type != types.ArrayType {
		return nil, true, errors.Errorf("cannot resolve %s: %s is not an array", e, child.Type)
	}
	return child.Eval, true, nil
}

// WindowColumn assigns event times to tumbling or sliding windows.
type WindowColumn struct {
	TimeColumn Column
	Size       time.Duration
	Slide      time.Duration
}

// Window groups by event-time windows of size, sliding every slide (tumbling when slide is 0).
func Window(timeColumn any, size, slide time.Duration) Column {
	if slide <= 0 {
		slide = size
	}
	return &WindowColumn{TimeColumn: Of(timeColumn), Size: size, Slide: slide}
}

func (w *WindowColumn) String() string {
	return "window"
}

// Windows lists every window containing t, oldest first.
func (w *WindowColumn) Windows(t time.Time) []types.Window {
	size, slide := w.Size.Nanoseconds(), w.Slide.Nanoseconds()
	ts := t.UnixNano()
	lastStart := ts - floorMod(ts, slide)
	var windows []types.Window
	for start := lastStart - size + slide; start <= lastStart; start += slide {
		if start+size <= ts {
			continue
		}
		windows = append(windows, types.Window{
			Start: time.Unix(0, start).In(t.Location()),
			End:   time.Unix(0, start+size).In(t.Location()),
		})
	}
	return windows
}

func floorMod(x, y int64) int64 {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}

func (w *WindowColumn) Bind(schema types.Schema) (Bound, error) {
	if w.Size <= 0 || w.Slide > w.Size {
		return Bound{}, errors.Errorf("invalid window size %s and slide %s", w.Size, w.Slide)
	}
	child, err := w.TimeColumn.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	if child.Type != types.TimestampType {
		return Bound{}, errors.Errorf("cannot resolve window(%s): %s is not a timestamp", w.TimeColumn, child.Type)
	}
	return Bound{Type: types.WindowType, Nullable: true, Eval: func(row types.Row) (any, error) {
		v, err := child.Eval(row)
		if err != nil || v == nil {
			return nil, err
		}
		windows := w.Windows(v.(time.Time))
		return windows[len(windows)-1], nil
	}}, nil
}

// EventTime reports the time column name c depends on, when c is a window over a plain
// column reference or the reference itself.
func EventTime(c Column) (string, bool) {
	switch x := Unalias(c).(type) {
	case *WindowColumn:
		return RefName(x.TimeColumn)
	case *ref:
		return x.name, true
	}
	return "", false
}
