package execution

import (
	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/types"
)

// hashJoin builds a hash table over one side and probes it with the other. The probe
// side is the side whose unmatched rows are kept, the left one unless it is a right
// outer join, so a streaming side is always the probe side of a valid query.
type hashJoin struct {
	left, right         operator
	joinType            plan.JoinType
	leftKeys, rightKeys []column.EvalFn
	// residual is the non equi part of the condition, bound against left ++ right.
	residual              column.EvalFn
	leftWidth, rightWidth int
	output                func(left, right types.Row) types.Row
}

func newHashJoin(left, right operator, j *plan.Join) (*hashJoin, error) {
	ls, rs := j.Left.Schema(), j.Right.Schema()
	h := &hashJoin{left: left, right: right, joinType: j.Type, leftWidth: ls.Len(), rightWidth: rs.Len()}
	if len(j.Using) > 0 {
		for i := range j.LeftKeys {
			li, ri := j.LeftKeys[i], j.RightKeys[i]
			h.leftKeys = append(h.leftKeys, func(row types.Row) (any, error) { return row[li], nil })
			h.rightKeys = append(h.rightKeys, func(row types.Row) (any, error) { return row[ri], nil })
		}
		h.output = usingOutput(j, ls.Len(), rs.Len())
		return h, nil
	}
	h.output = h.concat
	if j.Condition == nil {
		return h, nil
	}
	var residual []column.Column
	for _, c := range column.Conjuncts(j.Condition) {
		if lk, rk, ok := equiKeys(c, ls, rs); ok {
			h.leftKeys = append(h.leftKeys, lk)
			h.rightKeys = append(h.rightKeys, rk)
			continue
		}
		residual = append(residual, c)
	}
	if len(residual) > 0 {
		condition := residual[0]
		for _, c := range residual[1:] {
			condition = column.And(condition, c)
		}
		b, err := condition.Bind(ls.Concat(rs))
		if err != nil {
			return nil, err
		}
		h.residual = b.Eval
	}
	return h, nil
}

// bindsOnlyTo binds c against schema when c does not also resolve against other.
func bindsOnlyTo(c column.Column, schema, other types.Schema) (column.Bound, bool) {
	b, err := c.Bind(schema)
	if err != nil {
		return column.Bound{}, false
	}
	if _, err = c.Bind(other); err == nil {
		return column.Bound{}, false
	}
	return b, true
}

// equiKeys splits an equality whose operands each reference one side only.
func equiKeys(c column.Column, ls, rs types.Schema) (column.EvalFn, column.EvalFn, bool) {
	a, b, ok := column.Equality(c)
	if !ok {
		return nil, nil, false
	}
	if la, ok := bindsOnlyTo(a, ls, rs); ok {
		if rb, ok := bindsOnlyTo(b, rs, ls); ok {
			return la.Eval, rb.Eval, true
		}
	}
	if lb, ok := bindsOnlyTo(b, ls, rs); ok {
		if ra, ok := bindsOnlyTo(a, rs, ls); ok {
			return lb.Eval, ra.Eval, true
		}
	}
	return nil, nil, false
}

// usingOutput lays out key columns once, then the other left and right columns.
func usingOutput(j *plan.Join, leftWidth, rightWidth int) func(l, r types.Row) types.Row {
	if j.Type == plan.LeftSemiJoin || j.Type == plan.LeftAntiJoin {
		return func(l, _ types.Row) types.Row { return l }
	}
	var leftRest, rightRest []int
	for i := 0; i < leftWidth; i++ {
		if !contains(j.LeftKeys, i) {
			leftRest = append(leftRest, i)
		}
	}
	for i := 0; i < rightWidth; i++ {
		if !contains(j.RightKeys, i) {
			rightRest = append(rightRest, i)
		}
	}
	return func(l, r types.Row) types.Row {
		row := make(types.Row, 0, len(j.LeftKeys)+len(leftRest)+len(rightRest))
		for i := range j.LeftKeys {
			var v any
			if l != nil {
				v = l[j.LeftKeys[i]]
			}
			if v == nil && r != nil {
				v = r[j.RightKeys[i]]
			}
			row = append(row, v)
		}
		for _, i := range leftRest {
			if l == nil {
				row = append(row, nil)
			} else {
				row = append(row, l[i])
			}
		}
		for _, i := range rightRest {
			if r == nil {
				row = append(row, nil)
			} else {
				row = append(row, r[i])
			}
		}
		return row
	}
}

func contains(indexes []int, i int) bool {
	for _, x := range indexes {
		if x == i {
			return true
		}
	}
	return false
}

// keyOf returns the join key of row, false when any key is null.
func keyOf(row types.Row, keys []column.EvalFn) (string, bool, error) {
	values := make([]any, len(keys))
	for i, k := range keys {
		v, err := k(row)
		if err != nil {
			return "", false, err
		}
		if v == nil {
			return "", false, nil
		}
		values[i] = v
	}
	return types.KeyOf(values...), true, nil
}

func (h *hashJoin) execute(ctx *batchContext) ([]types.Row, error) {
	leftRows, err := h.left.execute(ctx)
	if err != nil {
		return nil, err
	}
	rightRows, err := h.right.execute(ctx)
	if err != nil {
		return nil, err
	}
	probe, build := leftRows, rightRows
	probeKeys, buildKeys := h.leftKeys, h.rightKeys
	combine := func(p, b types.Row) types.Row { return h.output(p, b) }
	if h.joinType == plan.RightOuterJoin {
		probe, build = rightRows, leftRows
		probeKeys, buildKeys = h.rightKeys, h.leftKeys
		combine = func(p, b types.Row) types.Row { return h.output(b, p) }
	}
	table := map[string][]int{}
	for i, row := range build {
		key, ok, err := keyOf(row, buildKeys)
		if err != nil {
			return nil, err
		}
		if ok {
			table[key] = append(table[key], i)
		}
	}
	matchedBuild := make([]bool, len(build))
	var out []types.Row
	for _, p := range probe {
		key, ok, err := keyOf(p, probeKeys)
		if err != nil {
			return nil, err
		}
		matched := false
		if ok {
			for _, i := range table[key] {
				joined := combine(p, build[i])
				if h.residual != nil {
					v, err := h.residual(joined)
					if err != nil {
						return nil, err
					}
					if keep, _ := v.(bool); !keep {
						continue
					}
				}
				matched = true
				matchedBuild[i] = true
				if h.joinType == plan.LeftSemiJoin || h.joinType == plan.LeftAntiJoin {
					break
				}
				out = append(out, joined)
			}
		}
		switch h.joinType {
		case plan.LeftSemiJoin:
			if matched {
				out = append(out, p)
			}
		case plan.LeftAntiJoin:
			if !matched {
				out = append(out, p)
			}
		case plan.LeftOuterJoin, plan.RightOuterJoin, plan.FullOuterJoin:
			if !matched {
				out = append(out, combine(p, nil))
			}
		}
	}
	if h.joinType == plan.FullOuterJoin {
		for i, b := range build {
			if !matchedBuild[i] {
				out = append(out, h.output(nil, b))
			}
		}
	}
	return out, nil
}

// concat lays out left ++ right, a missing side as nulls.
func (h *hashJoin) concat(l, r types.Row) types.Row {
	row := make(types.Row, h.leftWidth+h.rightWidth)
	copy(row, l)
	copy(row[h.leftWidth:], r)
	return row
}
