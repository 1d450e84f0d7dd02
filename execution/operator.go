package execution

import (
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/store"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

// batchContext carries what one execution of a compiled plan reads and reports.
type batchContext struct {
	batchID int64
	mode    plan.OutputMode
	// inputs are the rows each streaming relation contributes to this batch.
	inputs map[*plan.StreamingRelation][]types.Row
	// watermarkMs is the event time watermark in effect for this batch, 0 when unset.
	watermarkMs int64
	tracker     *WatermarkTracker
	stateful    []StateOperatorProgress
}

func (c *batchContext) watermark() (time.Time, bool) {
	if c.watermarkMs <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(c.watermarkMs).UTC(), true
}

type operator interface {
	execute(ctx *batchContext) ([]types.Row, error)
}

type scan struct {
	relation *plan.StreamingRelation
}

func (s *scan) execute(ctx *batchContext) ([]types.Row, error) {
	return ctx.inputs[s.relation], nil
}

type local struct {
	relation *plan.LocalRelation
}

func (l *local) execute(*batchContext) ([]types.Row, error) {
	return l.relation.Rows()
}

type project struct {
	child     operator
	bounds    []column.Bound
	generator column.EvalFn
	// index of the generated column, -1 without a generator
	index int
}

func newProject(child operator, p *plan.Project) (*project, error) {
	input := p.Child.Schema()
	bounds, _, err := column.BindAll(p.Columns, input)
	if err != nil {
		return nil, err
	}
	op := &project{child: child, bounds: bounds, index: p.Generator}
	if p.Generator >= 0 {
		if op.generator, _, err = column.Generator(p.Columns[p.Generator], input); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func (p *project) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := p.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		projected := make(types.Row, len(p.bounds))
		for i, b := range p.bounds {
			if i == p.index {
				continue
			}
			if projected[i], err = b.Eval(row); err != nil {
				return nil, err
			}
		}
		if p.generator == nil {
			out = append(out, projected)
			continue
		}
		v, err := p.generator(row)
		if err != nil {
			return nil, err
		}
		elements, _ := v.([]string)
		for _, element := range elements {
			generated := projected.Copy()
			generated[p.index] = element
			out = append(out, generated)
		}
	}
	return out, nil
}

type filter struct {
	child     operator
	condition column.EvalFn
}

func newFilter(child operator, f *plan.Filter) (*filter, error) {
	b, err := f.Condition.Bind(f.Child.Schema())
	if err != nil {
		return nil, err
	}
	return &filter{child: child, condition: b.Eval}, nil
}

func (f *filter) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := f.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, row := range rows {
		v, err := f.condition(row)
		if err != nil {
			return nil, err
		}
		if keep, _ := v.(bool); keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// eventTimeWatermark reports the event times flowing through it to the tracker.
type eventTimeWatermark struct {
	child operator
	id    int
	index int
}

func (w *eventTimeWatermark) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := w.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.tracker == nil {
		return rows, nil
	}
	for _, row := range rows {
		if t, ok := row[w.index].(time.Time); ok {
			ctx.tracker.Observe(w.id, t)
		}
	}
	return rows, nil
}

type sorter struct {
	child  operator
	schema types.Schema
	orders []column.SortOrder
}

func (s *sorter) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := s.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	sorted := make([]types.Row, len(rows))
	copy(sorted, rows)
	if err = column.SortRows(sorted, s.schema, s.orders); err != nil {
		return nil, err
	}
	return sorted, nil
}

type limit struct {
	child operator
	n     int
}

func (l *limit) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := l.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) > l.n {
		rows = rows[:l.n]
	}
	return rows, nil
}

// compiler turns a logical plan into operators. Streaming aggregations keep their
// groups in states registered on the state store.
type compiler struct {
	states     *store.StateStore
	tracker    *WatermarkTracker
	aggregates int
}

func (c *compiler) compile(node plan.Node) (operator, error) {
	switch n := node.(type) {
	case *plan.StreamingRelation:
		return &scan{relation: n}, nil
	case *plan.LocalRelation:
		return &local{relation: n}, nil
	case *plan.SubqueryAlias:
		return c.compile(n.Child)
	case *plan.Project:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		return newProject(child, n)
	case *plan.Filter:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		return newFilter(child, n)
	case *plan.Watermark:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		id := -1
		if c.tracker != nil {
			id = c.tracker.register(n)
		}
		return &eventTimeWatermark{child: child, id: id, index: n.Index()}, nil
	case *plan.Sort:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		return &sorter{child: child, schema: n.Child.Schema(), orders: n.Orders}, nil
	case *plan.Limit:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		return &limit{child: child, n: n.N}, nil
	case *plan.Join:
		left, err := c.compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.compile(n.Right)
		if err != nil {
			return nil, err
		}
		return newHashJoin(left, right, n)
	case *plan.Aggregate:
		child, err := c.compile(n.Child)
		if err != nil {
			return nil, err
		}
		agg, err := newAggregator(n)
		if err != nil {
			return nil, err
		}
		if !n.IsStreaming() || c.states == nil {
			return &hashAggregate{child: child, aggregator: agg}, nil
		}
		id := c.aggregates
		c.aggregates++
		return newStatefulAggregate(child, agg, n, id, c.states)
	default:
		return nil, errors.Errorf("can't execute %T", node)
	}
}

// Execute evaluates a plan over bounded inputs only.
func Execute(node plan.Node) ([]types.Row, error) {
	if err := plan.CheckBatch(node); err != nil {
		return nil, err
	}
	op, err := (&compiler{}).compile(node)
	if err != nil {
		return nil, err
	}
	return op.execute(&batchContext{batchID: -1})
}
