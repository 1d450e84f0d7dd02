package column

import (
	"math"
	"regexp"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

type binaryKind int

const (
	arithmetic binaryKind = iota
	comparison
	logical
)

type binary struct {
	op          string
	kind        binaryKind
	left, right Column
}

func newBinary(op string, kind binaryKind, left, right any) Column {
	return &binary{op: op, kind: kind, left: Of(left), right: Of(right)}
}

func Add(left, right any) Column { return newBinary("+", arithmetic, left, right) }
func Sub(left, right any) Column { return newBinary("-", arithmetic, left, right) }
func Mul(left, right any) Column { return newBinary("*", arithmetic, left, right) }
func Div(left, right any) Column { return newBinary("/", arithmetic, left, right) }
func Mod(left, right any) Column { return newBinary("%", arithmetic, left, right) }

func Eq(left, right any) Column  { return newBinary("=", comparison, left, right) }
func Neq(left, right any) Column { return newBinary("!=", comparison, left, right) }
func Gt(left, right any) Column  { return newBinary(">", comparison, left, right) }
func Ge(left, right any) Column  { return newBinary(">=", comparison, left, right) }
func Lt(left, right any) Column  { return newBinary("<", comparison, left, right) }
func Le(left, right any) Column  { return newBinary("<=", comparison, left, right) }

func And(left, right any) Column { return newBinary("AND", logical, left, right) }
func Or(left, right any) Column  { return newBinary("OR", logical, left, right) }

func (b *binary) String() string {
	return "(" + b.left.String() + " " + b.op + " " + b.right.String() + ")"
}

func (b *binary) Bind(schema types.Schema) (Bound, error) {
	left, err := b.left.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	right, err := b.right.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	switch b.kind {
	case arithmetic:
		return b.bindArithmetic(left, right)
	case comparison:
		return b.bindComparison(left, right)
	default:
		return b.bindLogical(left, right)
	}
}

func numericOrNull(t types.DataType) bool {
	return t.Numeric() || t == types.NullType
}

func (b *binary) bindArithmetic(left, right Bound) (Bound, error) {
	if !numericOrNull(left.Type) || !numericOrNull(right.Type) {
		return Bound{}, errors.Errorf("cannot resolve %s: %s and %s are not numeric", b, left.Type, right.Type)
	}
	resultType := types.DoubleType
	if b.op != "/" && left.Type != types.DoubleType && right.Type != types.DoubleType {
		resultType = types.LongType
	}
	op := b.op
	return Bound{Type: resultType, Nullable: true, Eval: func(row types.Row) (any, error) {
		l, err := left.Eval(row)
		if err != nil || l == nil {
			return nil, err
		}
		r, err := right.Eval(row)
		if err != nil || r == nil {
			return nil, err
		}
		if resultType == types.LongType {
			return longArithmetic(op, l.(int64), r.(int64)), nil
		}
		return doubleArithmetic(op, toFloat(l), toFloat(r)), nil
	}}, nil
}

func longArithmetic(op string, l, r int64) any {
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	default:
		if r == 0 {
			return nil
		}
		return l % r
	}
}

func doubleArithmetic(op string, l, r float64) any {
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return nil
		}
		return l / r
	default:
		if r == 0 {
			return nil
		}
		return math.Mod(l, r)
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return math.NaN()
}

func comparableTypes(l, r types.DataType) bool {
	return l == r || l == types.NullType || r == types.NullType || (l.Numeric() && r.Numeric())
}

func (b *binary) bindComparison(left, right Bound) (Bound, error) {
	if !comparableTypes(left.Type, right.Type) {
		return Bound{}, errors.Errorf("cannot resolve %s: can't compare %s with %s", b, left.Type, right.Type)
	}
	op := b.op
	return Bound{Type: types.BooleanType, Nullable: left.Nullable || right.Nullable, Eval: func(row types.Row) (any, error) {
		l, err := left.Eval(row)
		if err != nil || l == nil {
			return nil, err
		}
		r, err := right.Eval(row)
		if err != nil || r == nil {
			return nil, err
		}
		c, err := types.Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch op {
		case "=":
			return c == 0, nil
		case "!=":
			return c != 0, nil
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		case "<":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}}, nil
}

func booleanOrNull(t types.DataType) bool {
	return t == types.BooleanType || t == types.NullType
}

func (b *binary) bindLogical(left, right Bound) (Bound, error) {
	if !booleanOrNull(left.Type) || !booleanOrNull(right.Type) {
		return Bound{}, errors.Errorf("cannot resolve %s: %s and %s are not boolean", b, left.Type, right.Type)
	}
	and := b.op == "AND"
	return Bound{Type: types.BooleanType, Nullable: left.Nullable || right.Nullable, Eval: func(row types.Row) (any, error) {
		l, err := left.Eval(row)
		if err != nil {
			return nil, err
		}
		// short circuit on the dominant value
		if l != nil && l.(bool) != and {
			return l, nil
		}
		r, err := right.Eval(row)
		if err != nil {
			return nil, err
		}
		switch {
		case r != nil && r.(bool) != and:
			return r, nil
		case l == nil || r == nil:
			return nil, nil
		default:
			return and, nil
		}
	}}, nil
}

type unary struct {
	op    string
	child Column
}

func Not(c any) Column       { return &unary{op: "NOT", child: Of(c)} }
func Negate(c any) Column    { return &unary{op: "-", child: Of(c)} }
func IsNull(c any) Column    { return &unary{op: "IS NULL", child: Of(c)} }
func IsNotNull(c any) Column { return &unary{op: "IS NOT NULL", child: Of(c)} }

func (u *unary) String() string {
	switch u.op {
	case "NOT", "-":
		return "(" + u.op + " " + u.child.String() + ")"
	default:
		return "(" + u.child.String() + " " + u.op + ")"
	}
}

func (u *unary) Bind(schema types.Schema) (Bound, error) {
	child, err := u.child.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	switch u.op {
	case "NOT":
		if !booleanOrNull(child.Type) {
			return Bound{}, errors.Errorf("cannot resolve %s: %s is not boolean", u, child.Type)
		}
		return Bound{Type: types.BooleanType, Nullable: child.Nullable, Eval: func(row types.Row) (any, error) {
			v, err := child.Eval(row)
			if err != nil || v == nil {
				return nil, err
			}
			return !v.(bool), nil
		}}, nil
	case "-":
		if !numericOrNull(child.Type) {
			return Bound{}, errors.Errorf("cannot resolve %s: %s is not numeric", u, child.Type)
		}
		return Bound{Type: child.Type, Nullable: child.Nullable, Eval: func(row types.Row) (any, error) {
			v, err := child.Eval(row)
			if err != nil || v == nil {
				return nil, err
			}
			switch x := v.(type) {
			case int64:
				return -x, nil
			default:
				return -toFloat(x), nil
			}
		}}, nil
	default:
		wantNull := u.op == "IS NULL"
		return Bound{Type: types.BooleanType, Eval: func(row types.Row) (any, error) {
			v, err := child.Eval(row)
			if err != nil {
				return nil, err
			}
			return (v == nil) == wantNull, nil
		}}, nil
	}
}

type like struct {
	child   Column
	pattern string
}

// Like matches SQL LIKE patterns, % for any run and _ for one character.
func Like(c any, pattern string) Column {
	return &like{child: Of(c), pattern: pattern}
}

func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func (l *like) String() string {
	return l.child.String() + " LIKE " + l.pattern
}

func (l *like) Bind(schema types.Schema) (Bound, error) {
	child, err := l.child.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	if child.Type != types.StringType && child.Type != types.NullType {
		return Bound{}, errors.Errorf("cannot resolve %s: %s is not a string", l, child.Type)
	}
	re, err := likeToRegexp(l.pattern)
	if err != nil {
		return Bound{}, errors.WithMessagef(err, "invalid like pattern %q", l.pattern)
	}
	return Bound{Type: types.BooleanType, Nullable: child.Nullable, Eval: func(row types.Row) (any, error) {
		v, err := child.Eval(row)
		if err != nil || v == nil {
			return nil, err
		}
		return re.MatchString(v.(string)), nil
	}}, nil
}

type in struct {
	child  Column
	values []Column
}

// In is true when c equals any of values.
func In(c any, values ...any) Column {
	cols := make([]Column, len(values))
	for i, v := range values {
		cols[i] = Of(v)
	}
	return &in{child: Of(c), values: cols}
}

func (i *in) String() string {
	parts := make([]string, len(i.values))
	for j, v := range i.values {
		parts[j] = v.String()
	}
	return "(" + i.child.String() + " IN (" + strings.Join(parts, ", ") + "))"
}

func (i *in) Bind(schema types.Schema) (Bound, error) {
	child, err := i.child.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	values := make([]Bound, len(i.values))
	for j, v := range i.values {
		if values[j], err = v.Bind(schema); err != nil {
			return Bound{}, err
		}
		if !comparableTypes(child.Type, values[j].Type) {
			return Bound{}, errors.Errorf("cannot resolve %s: can't compare %s with %s", i, child.Type, values[j].Type)
		}
	}
	return Bound{Type: types.BooleanType, Nullable: true, Eval: func(row types.Row) (any, error) {
		v, err := child.Eval(row)
		if err != nil || v == nil {
			return nil, err
		}
		for _, candidate := range values {
			c, err := candidate.Eval(row)
			if err != nil {
				return nil, err
			}
			if types.Equal(v, c) {
				return true, nil
			}
		}
		return false, nil
	}}, nil
}

type cast struct {
	child Column
	to    types.DataType
}

// Cast converts c to dataType; values that can't be converted become null.
func Cast(c any, dataType types.DataType) Column {
	return &cast{child: Of(c), to: dataType}
}

func (c *cast) String() string {
	return "CAST(" + c.child.String() + " AS " + c.to.SQLName() + ")"
}

func (c *cast) Bind(schema types.Schema) (Bound, error) {
	child, err := c.child.Bind(schema)
	if err != nil {
		return Bound{}, err
	}
	to := c.to
	return Bound{Type: to, Nullable: true, Eval: func(row types.Row) (any, error) {
		v, err := child.Eval(row)
		if err != nil || v == nil {
			return nil, err
		}
		if f, ok := v.(float64); ok && to == types.LongType {
			return int64(f), nil
		}
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		out, err := types.Normalize(v, to)
		if err != nil {
			return nil, nil
		}
		return out, nil
	}}, nil
}

// Conjuncts splits c on its top level ANDs.
func Conjuncts(c Column) []Column {
	b, ok := Unalias(c).(*binary)
	if !ok || b.op != "AND" {
		return []Column{c}
	}
	return append(Conjuncts(b.left), Conjuncts(b.right)...)
}

// Equality returns the operands of c when c is an equality comparison.
func Equality(c Column) (Column, Column, bool) {
	b, ok := Unalias(c).(*binary)
	if !ok || b.op != "=" {
		return nil, nil, false
	}
	return b.left, b.right, true
}
