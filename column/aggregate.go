package column

import (
	"encoding/gob"
	"time"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&CountAccumulator{})
	gob.Register(&SumAccumulator{})
	gob.Register(&AvgAccumulator{})
	gob.Register(&ExtremeAccumulator{})
	gob.Register(time.Time{})
	gob.Register(types.Window{})
	gob.Register([]string{})
}

// Accumulator folds input values of one group. Implementations expose their fields so
// that state snapshots can gob-encode them.
type Accumulator interface {
	Add(v any) error
	// Merge folds another accumulator of the same kind into this one.
	Merge(other Accumulator) error
	Result() any
}

func mergeMismatch(into, other Accumulator) error {
	return errors.Errorf("can't merge %T into %T", other, into)
}

type AggregateColumn struct {
	Function string
	// Input is nil for count(*)
	Input Column
}

// BoundAggregate is an aggregate resolved against its input schema.
type BoundAggregate struct {
	Name  string
	Type  types.DataType
	Input EvalFn
	New   func() Accumulator
}

// Count counts non-null values of c; like the other aggregates a string names a column.
func Count(c any) Column { return &AggregateColumn{Function: "count", Input: named(c)} }

// CountAll counts rows, nulls included.
func CountAll() Column { return &AggregateColumn{Function: "count"} }
func Sum(c any) Column { return &AggregateColumn{Function: "sum", Input: named(c)} }
func Avg(c any) Column { return &AggregateColumn{Function: "avg", Input: named(c)} }
func Min(c any) Column { return &AggregateColumn{Function: "min", Input: named(c)} }
func Max(c any) Column { return &AggregateColumn{Function: "max", Input: named(c)} }

func IsAggregate(c Column) bool {
	_, ok := Unalias(c).(*AggregateColumn)
	return ok
}

// NewAggregate builds the named aggregate function, nil input meaning count(*).
func NewAggregate(function string, input Column) (Column, error) {
	switch function {
	case "count":
		return &AggregateColumn{Function: function, Input: input}, nil
	case "sum", "avg", "min", "max":
		if input == nil {
			return nil, errors.Errorf("%s(*) is not supported", function)
		}
		return &AggregateColumn{Function: function, Input: input}, nil
	default:
		return nil, errors.Errorf("unknown aggregate function %s", function)
	}
}

func (a *AggregateColumn) String() string {
	if a.Input == nil {
		return a.Function + "(1)"
	}
	return a.Function + "(" + a.Input.String() + ")"
}

func (a *AggregateColumn) Bind(types.Schema) (Bound, error) {
	return Bound{}, errors.WithMessagef(ErrAggregateContext, "%s", a)
}

// BindAggregate resolves c, an optionally aliased aggregate, against schema.
func BindAggregate(c Column, schema types.Schema) (BoundAggregate, error) {
	a, ok := Unalias(c).(*AggregateColumn)
	if !ok {
		return BoundAggregate{}, errors.Errorf("%s is not an aggregate function", c)
	}
	out := BoundAggregate{Name: Name(c)}
	if a.Input == nil {
		out.Type = types.LongType
		out.Input = func(types.Row) (any, error) { return int64(1), nil }
		out.New = func() Accumulator { return &CountAccumulator{} }
		return out, nil
	}
	input, err := a.Input.Bind(schema)
	if err != nil {
		return BoundAggregate{}, err
	}
	out.Input = input.Eval
	switch a.Function {
	case "count":
		out.Type = types.LongType
		out.New = func() Accumulator { return &CountAccumulator{} }
	case "sum":
		if !numericOrNull(input.Type) {
			return BoundAggregate{}, errors.Errorf("cannot resolve %s: %s is not numeric", a, input.Type)
		}
		out.Type = input.Type
		if out.Type == types.NullType {
			out.Type = types.LongType
		}
		out.New = func() Accumulator { return &SumAccumulator{} }
	case "avg":
		if !numericOrNull(input.Type) {
			return BoundAggregate{}, errors.Errorf("cannot resolve %s: %s is not numeric", a, input.Type)
		}
		out.Type = types.DoubleType
		out.New = func() Accumulator { return &AvgAccumulator{} }
	case "min", "max":
		out.Type = input.Type
		isMax := a.Function == "max"
		out.New = func() Accumulator { return &ExtremeAccumulator{Max: isMax} }
	default:
		return BoundAggregate{}, errors.Errorf("unknown aggregate function %s", a.Function)
	}
	return out, nil
}

// CountAccumulator counts non-null inputs.
type CountAccumulator struct {
	N int64
}

func (c *CountAccumulator) Add(v any) error {
	if v != nil {
		c.N++
	}
	return nil
}

func (c *CountAccumulator) Merge(other Accumulator) error {
	o, ok := other.(*CountAccumulator)
	if !ok {
		return mergeMismatch(c, other)
	}
	c.N += o.N
	return nil
}

func (c *CountAccumulator) Result() any { return c.N }

type SumAccumulator struct {
	Long     int64
	Double   float64
	Floating bool
	Seen     bool
}

func (s *SumAccumulator) Add(v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		s.Long += x
	case float64:
		s.Floating = true
		s.Double += x
	default:
		return errors.WithMessagef(types.ErrTypeMismatch, "can't sum %T", v)
	}
	s.Seen = true
	return nil
}

func (s *SumAccumulator) Merge(other Accumulator) error {
	o, ok := other.(*SumAccumulator)
	if !ok {
		return mergeMismatch(s, other)
	}
	s.Long += o.Long
	s.Double += o.Double
	s.Floating = s.Floating || o.Floating
	s.Seen = s.Seen || o.Seen
	return nil
}

func (s *SumAccumulator) Result() any {
	switch {
	case !s.Seen:
		return nil
	case s.Floating:
		return s.Double + float64(s.Long)
	default:
		return s.Long
	}
}

type AvgAccumulator struct {
	Sum float64
	N   int64
}

func (a *AvgAccumulator) Add(v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		a.Sum += float64(x)
	case float64:
		a.Sum += x
	default:
		return errors.WithMessagef(types.ErrTypeMismatch, "can't average %T", v)
	}
	a.N++
	return nil
}

func (a *AvgAccumulator) Merge(other Accumulator) error {
	o, ok := other.(*AvgAccumulator)
	if !ok {
		return mergeMismatch(a, other)
	}
	a.Sum += o.Sum
	a.N += o.N
	return nil
}

func (a *AvgAccumulator) Result() any {
	if a.N == 0 {
		return nil
	}
	return a.Sum / float64(a.N)
}

// ExtremeAccumulator keeps the minimum, or the maximum when Max is set.
type ExtremeAccumulator struct {
	Value any
	Max   bool
}

func (e *ExtremeAccumulator) Add(v any) error {
	if v == nil {
		return nil
	}
	if e.Value == nil {
		e.Value = v
		return nil
	}
	c, err := types.Compare(v, e.Value)
	if err != nil {
		return err
	}
	if (e.Max && c > 0) || (!e.Max && c < 0) {
		e.Value = v
	}
	return nil
}

func (e *ExtremeAccumulator) Merge(other Accumulator) error {
	o, ok := other.(*ExtremeAccumulator)
	if !ok || o.Max != e.Max {
		return mergeMismatch(e, other)
	}
	return e.Add(o.Value)
}

func (e *ExtremeAccumulator) Result() any { return e.Value }
