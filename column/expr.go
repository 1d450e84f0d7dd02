package column

import (
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/pkg/errors"
)

type exprColumn struct {
	code string
	// typ is NullType for predicates compiled with expr.AsBool
	typ types.DataType
}

// Expr is a boolean predicate written in the expr language, with the row's columns as
// variables, e.g. `age > 21 && city in ["Oslo", "Bergen"]`.
func Expr(code string) Column {
	return &exprColumn{code: code}
}

// ExprAs evaluates an expr-language expression and converts the result to dataType.
func ExprAs(code string, dataType types.DataType) Column {
	return &exprColumn{code: code, typ: dataType}
}

func (e *exprColumn) String() string {
	return e.code
}

func zeroValue(t types.DataType) any {
	switch t {
	case types.StringType:
		return ""
	case types.LongType:
		return int64(0)
	case types.DoubleType:
		return float64(0)
	case types.BooleanType:
		return false
	case types.TimestampType:
		return time.Time{}
	case types.WindowType:
		return types.Window{}
	case types.ArrayType:
		return []string{}
	default:
		return nil
	}
}

func (e *exprColumn) Bind(schema types.Schema) (Bound, error) {
	env := map[string]any{}
	var vars []variable
	for i, f := range schema.Fields {
		if _, ok := env[f.Name]; ok {
			continue
		}
		env[f.Name] = zeroValue(f.Type)
		vars = append(vars, variable{name: f.Name, index: i})
	}
	options := []expr.Option{expr.Env(env)}
	resultType := e.typ
	if resultType == types.NullType {
		options = append(options, expr.AsBool())
		resultType = types.BooleanType
	}
	program, err := expr.Compile(e.code, options...)
	if err != nil {
		return Bound{}, errors.Errorf("unable to compile expression '%s': %s", e.code, strings.TrimSpace(err.Error()))
	}
	return Bound{Type: resultType, Nullable: true, Eval: func(row types.Row) (any, error) {
		return runExpr(program, vars, row, resultType)
	}}, nil
}

type variable struct {
	name  string
	index int
}

func runExpr(program *vm.Program, vars []variable, row types.Row, resultType types.DataType) (any, error) {
	env := make(map[string]any, len(vars))
	hasNull := false
	for _, v := range vars {
		env[v.name] = row[v.index]
		if row[v.index] == nil {
			hasNull = true
		}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		if hasNull {
			// operations on null inputs yield null
			return nil, nil
		}
		return nil, errors.Errorf("unable to execute compiled program: %s", err)
	}
	if out == nil {
		return nil, nil
	}
	return types.Normalize(out, resultType)
}
