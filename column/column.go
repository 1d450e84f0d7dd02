// Package column builds typed expressions over rows.
//
// A Column is unresolved until Bind is called with the input schema; binding checks
// references and types once so evaluation per row stays cheap.
package column

import (
	"fmt"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

var (
	ErrAggregateContext = errors.New("aggregate functions are only allowed in an aggregation")
	ErrGeneratorContext = errors.New("explode is only allowed as a top level select column")
)

// EvalFn evaluates a bound expression against one row.
type EvalFn func(row types.Row) (any, error)

type Bound struct {
	Type     types.DataType
	Nullable bool
	Eval     EvalFn
}

type Column interface {
	fmt.Stringer
	Bind(schema types.Schema) (Bound, error)
}

// Name is the output column name of c.
func Name(c Column) string {
	switch x := c.(type) {
	case *alias:
		return x.name
	case *ref:
		if dot := strings.LastIndex(x.name, "."); dot > 0 {
			return x.name[dot+1:]
		}
		return x.name
	case *indexed:
		return x.field.Name
	default:
		return c.String()
	}
}

// Unalias strips any aliases wrapped around c.
func Unalias(c Column) Column {
	for {
		a, ok := c.(*alias)
		if !ok {
			return c
		}
		c = a.child
	}
}

// Of wraps plain values into literals, columns pass through.
func Of(v any) Column {
	if c, ok := v.(Column); ok {
		return c
	}
	return Lit(v)
}

// named treats a string as a column name, anything else as Of does.
func named(v any) Column {
	if name, ok := v.(string); ok {
		return Col(name)
	}
	return Of(v)
}

// Cols turns names into column references.
func Cols(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Col(name)
	}
	return cols
}

// BindAll binds every column against schema and returns the output schema too.
func BindAll(columns []Column, schema types.Schema) ([]Bound, types.Schema, error) {
	bounds := make([]Bound, len(columns))
	fields := make([]types.Field, len(columns))
	for i, c := range columns {
		b, err := c.Bind(schema)
		if err != nil {
			return nil, types.Schema{}, err
		}
		bounds[i] = b
		fields[i] = types.Field{Name: Name(c), Type: b.Type, Nullable: b.Nullable}
		switch r := c.(type) {
		case *ref:
			if f, err := schema.Field(r.name); err == nil {
				fields[i].Qualifier = f.Qualifier
			}
		case *indexed:
			fields[i].Qualifier = schema.Fields[r.index].Qualifier
		}
	}
	return bounds, types.Schema{Fields: fields}, nil
}

type ref struct {
	name string
}

// Col references an input column by name or qualifier.name; "*" is expanded by projections.
func Col(name string) Column {
	return &ref{name: name}
}

// IsStar reports whether c is the "*" or "alias.*" wildcard, returning the qualifier.
func IsStar(c Column) (string, bool) {
	r, ok := c.(*ref)
	if !ok {
		return "", false
	}
	if r.name == "*" {
		return "", true
	}
	if strings.HasSuffix(r.name, ".*") {
		return strings.TrimSuffix(r.name, ".*"), true
	}
	return "", false
}

// RefName returns the referenced name when c is a plain column reference.
func RefName(c Column) (string, bool) {
	r, ok := Unalias(c).(*ref)
	if !ok {
		return "", false
	}
	return r.name, true
}

func (r *ref) String() string {
	return r.name
}

func (r *ref) Bind(schema types.Schema) (Bound, error) {
	if _, star := IsStar(r); star {
		return Bound{}, errors.Errorf("%s can only be used in a projection", r.name)
	}
	i, err := schema.Index(r.name)
	if err != nil {
		return Bound{}, err
	}
	f := schema.Fields[i]
	return Bound{Type: f.Type, Nullable: f.Nullable, Eval: func(row types.Row) (any, error) {
		return row[i], nil
	}}, nil
}

type indexed struct {
	index int
	field types.Field
}

// At references the input column at index directly, bypassing name resolution. Used to
// expand wildcards over schemas with duplicate names.
func At(index int, field types.Field) Column {
	return &indexed{index: index, field: field}
}

func (x *indexed) String() string {
	return x.field.Name
}

func (x *indexed) Bind(schema types.Schema) (Bound, error) {
	if x.index >= schema.Len() {
		return Bound{}, errors.Errorf("column %s at %d is out of range", x.field.Name, x.index)
	}
	i := x.index
	f := schema.Fields[i]
	return Bound{Type: f.Type, Nullable: f.Nullable, Eval: func(row types.Row) (any, error) {
		return row[i], nil
	}}, nil
}

type literal struct {
	value any
	typ   types.DataType
}

// Lit is a constant. Go numeric types are normalized to long or double.
func Lit(v any) Column {
	var (
		value any
		typ   types.DataType
	)
	switch x := v.(type) {
	case nil:
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		value, _ = types.Normalize(x, types.LongType)
		typ = types.LongType
	case float32, float64:
		value, _ = types.Normalize(x, types.DoubleType)
		typ = types.DoubleType
	default:
		value, typ = v, types.TypeOf(v)
	}
	return &literal{value: value, typ: typ}
}

// LiteralValue returns the constant behind c when c is a literal.
func LiteralValue(c Column) (any, bool) {
	l, ok := Unalias(c).(*literal)
	if !ok {
		return nil, false
	}
	return l.value, true
}

func (l *literal) String() string {
	return types.Format(l.value)
}

func (l *literal) Bind(_ types.Schema) (Bound, error) {
	value := l.value
	return Bound{Type: l.typ, Nullable: value == nil, Eval: func(types.Row) (any, error) {
		return value, nil
	}}, nil
}

type alias struct {
	child Column
	name  string
}

// Alias renames the output of c.
func Alias(c Column, name string) Column {
	return &alias{child: Unalias(c), name: name}
}

func (a *alias) String() string {
	return a.child.String() + " AS " + a.name
}

func (a *alias) Bind(schema types.Schema) (Bound, error) {
	return a.child.Bind(schema)
}
