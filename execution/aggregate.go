package execution

import (
	"strconv"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/store"
	"github.com/RuiFG/streaming/streaming-table/types"
)

// keyFn yields every grouping value of a row; sliding windows yield several.
type keyFn func(row types.Row) ([]any, error)

type aggregator struct {
	keys       []keyFn
	aggregates []column.BoundAggregate
}

func newAggregator(a *plan.Aggregate) (*aggregator, error) {
	input := a.Child.Schema()
	agg := &aggregator{}
	for _, g := range a.Grouping {
		if w, ok := column.Unalias(g).(*column.WindowColumn); ok {
			if _, err := w.Bind(input); err != nil {
				return nil, err
			}
			t, err := w.TimeColumn.Bind(input)
			if err != nil {
				return nil, err
			}
			agg.keys = append(agg.keys, func(row types.Row) ([]any, error) {
				v, err := t.Eval(row)
				if err != nil || v == nil {
					return []any{nil}, err
				}
				windows := w.Windows(v.(time.Time))
				values := make([]any, len(windows))
				for i, window := range windows {
					values[i] = window
				}
				return values, nil
			})
			continue
		}
		b, err := g.Bind(input)
		if err != nil {
			return nil, err
		}
		agg.keys = append(agg.keys, func(row types.Row) ([]any, error) {
			v, err := b.Eval(row)
			return []any{v}, err
		})
	}
	for _, c := range a.Aggregates {
		b, err := column.BindAggregate(c, input)
		if err != nil {
			return nil, err
		}
		agg.aggregates = append(agg.aggregates, b)
	}
	return agg, nil
}

// keysOf returns the grouping keys of row, the cross product of every key's values.
func (a *aggregator) keysOf(row types.Row) ([][]any, error) {
	combinations := [][]any{make([]any, 0, len(a.keys))}
	for _, fn := range a.keys {
		values, err := fn(row)
		if err != nil {
			return nil, err
		}
		next := make([][]any, 0, len(combinations)*len(values))
		for _, prefix := range combinations {
			for _, v := range values {
				keys := make([]any, len(prefix), len(prefix)+1)
				copy(keys, prefix)
				next = append(next, append(keys, v))
			}
		}
		combinations = next
	}
	return combinations, nil
}

func (a *aggregator) newGroup(keys []any) *Group {
	g := &Group{Keys: keys, Accumulators: make([]column.Accumulator, len(a.aggregates))}
	for i, agg := range a.aggregates {
		g.Accumulators[i] = agg.New()
	}
	return g
}

func (a *aggregator) add(g *Group, row types.Row) error {
	for i, agg := range a.aggregates {
		v, err := agg.Input(row)
		if err != nil {
			return err
		}
		if err = g.Accumulators[i].Add(v); err != nil {
			return err
		}
	}
	return nil
}

// Group is the aggregation buffer of one grouping key.
type Group struct {
	Keys         []any
	Accumulators []column.Accumulator
}

func (g *Group) row() types.Row {
	row := make(types.Row, 0, len(g.Keys)+len(g.Accumulators))
	row = append(row, g.Keys...)
	for _, acc := range g.Accumulators {
		row = append(row, acc.Result())
	}
	return row
}

func (g *Group) merge(other *Group) error {
	for i, acc := range g.Accumulators {
		if err := acc.Merge(other.Accumulators[i]); err != nil {
			return err
		}
	}
	return nil
}

// groups keeps groups in first seen order.
type groups struct {
	byKey map[string]*Group
	order []string
}

func newGroups() *groups {
	return &groups{byKey: map[string]*Group{}}
}

// partial aggregates rows into groups local to one batch.
func (a *aggregator) partial(rows []types.Row, filter func(keys []any) bool) (*groups, error) {
	out := newGroups()
	for _, row := range rows {
		combinations, err := a.keysOf(row)
		if err != nil {
			return nil, err
		}
		for _, keys := range combinations {
			if filter != nil && !filter(keys) {
				continue
			}
			key := types.KeyOf(keys...)
			g, ok := out.byKey[key]
			if !ok {
				g = a.newGroup(keys)
				out.byKey[key] = g
				out.order = append(out.order, key)
			}
			if err = a.add(g, row); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

type hashAggregate struct {
	child      operator
	aggregator *aggregator
}

func (h *hashAggregate) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := h.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	result, err := h.aggregator.partial(rows, nil)
	if err != nil {
		return nil, err
	}
	// a global aggregate over no rows still has one result
	if len(h.aggregator.keys) == 0 && len(result.order) == 0 {
		return []types.Row{h.aggregator.newGroup(nil).row()}, nil
	}
	out := make([]types.Row, len(result.order))
	for i, key := range result.order {
		out[i] = result.byKey[key].row()
	}
	return out, nil
}

// AggregationState is the persisted state of a streaming aggregation.
type AggregationState struct {
	Groups map[string]*Group
	Order  []string
}

func newAggregationState() AggregationState {
	return AggregationState{Groups: map[string]*Group{}}
}

type statefulAggregate struct {
	child      operator
	aggregator *aggregator
	state      store.StateController[AggregationState]
	// eventTime is the grouping key that finalizes groups, -1 without a watermark.
	eventTime int
}

func newStatefulAggregate(child operator, agg *aggregator, a *plan.Aggregate, id int, states *store.StateStore) (*statefulAggregate, error) {
	state, err := store.GobRegisterOrGet[AggregationState](states, "aggregate-"+strconv.Itoa(id), newAggregationState)
	if err != nil {
		return nil, err
	}
	eventTime, ok := plan.WatermarkedGroupingKey(a)
	if !ok {
		eventTime = -1
	}
	return &statefulAggregate{child: child, aggregator: agg, state: state, eventTime: eventTime}, nil
}

// expired tells whether a group keyed by keys can't receive rows anymore.
func (s *statefulAggregate) expired(keys []any, watermark time.Time) bool {
	switch v := keys[s.eventTime].(type) {
	case types.Window:
		return !v.End.After(watermark)
	case time.Time:
		return !v.After(watermark)
	}
	return false
}

func (s *statefulAggregate) execute(ctx *batchContext) ([]types.Row, error) {
	rows, err := s.child.execute(ctx)
	if err != nil {
		return nil, err
	}
	watermark, watermarked := ctx.watermark()
	watermarked = watermarked && s.eventTime >= 0
	var (
		late   int64
		filter func([]any) bool
	)
	if watermarked {
		filter = func(keys []any) bool {
			if s.expired(keys, watermark) {
				late++
				return false
			}
			return true
		}
	}
	partial, err := s.aggregator.partial(rows, filter)
	if err != nil {
		return nil, err
	}

	s.state.Locker().Lock()
	defer s.state.Locker().Unlock()
	state := s.state.Pointer()
	for _, key := range partial.order {
		g := partial.byKey[key]
		if existing, ok := state.Groups[key]; ok {
			if err = existing.merge(g); err != nil {
				return nil, err
			}
			continue
		}
		state.Groups[key] = g
		state.Order = append(state.Order, key)
	}

	var out []types.Row
	switch ctx.mode {
	case plan.Complete:
		out = make([]types.Row, 0, len(state.Order))
		for _, key := range state.Order {
			out = append(out, state.Groups[key].row())
		}
	case plan.Update:
		out = make([]types.Row, 0, len(partial.order))
		for _, key := range partial.order {
			out = append(out, state.Groups[key].row())
		}
	}
	var removed int64
	if watermarked && ctx.mode != plan.Complete {
		kept := state.Order[:0]
		for _, key := range state.Order {
			g := state.Groups[key]
			if !s.expired(g.Keys, watermark) {
				kept = append(kept, key)
				continue
			}
			if ctx.mode == plan.Append {
				out = append(out, g.row())
			}
			delete(state.Groups, key)
			removed++
		}
		state.Order = kept
	}
	ctx.stateful = append(ctx.stateful, StateOperatorProgress{
		OperatorName:              "stateStoreSave",
		NumRowsTotal:              int64(len(state.Order)),
		NumRowsUpdated:            int64(len(partial.order)),
		NumRowsRemoved:            removed,
		NumRowsDroppedByWatermark: late,
	})
	return out, nil
}
