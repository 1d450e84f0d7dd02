package stream

import (
	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sql"
	"github.com/pkg/errors"
)

func (s *Session) relation(ref sql.TableRef) (plan.Node, error) {
	df, err := s.Table(ref.Name)
	if err != nil {
		return nil, errors.WithMessagef(err, "at position %d", ref.Pos)
	}
	alias := ref.Alias
	if alias == "" {
		alias = ref.Name
	}
	return plan.NewSubqueryAlias(df.plan, alias), nil
}

// planSelect turns a parsed statement into a plan:
// FROM/JOIN, WHERE, GROUP BY/aggregates, HAVING, projection, ORDER BY, LIMIT.
func (s *Session) planSelect(stmt *sql.Select) (plan.Node, error) {
	node, err := s.relation(stmt.From)
	if err != nil {
		return nil, err
	}
	for _, j := range stmt.Joins {
		right, err := s.relation(j.Table)
		if err != nil {
			return nil, err
		}
		joinType, err := plan.ParseJoinType(string(j.Type))
		if err != nil {
			return nil, err
		}
		if len(j.Using) > 0 {
			node, err = plan.NewJoinUsing(node, right, joinType, j.Using)
		} else {
			node, err = plan.NewJoin(node, right, joinType, j.On)
		}
		if err != nil {
			return nil, err
		}
	}
	if stmt.Where != nil {
		if node, err = plan.NewFilter(node, stmt.Where); err != nil {
			return nil, err
		}
	}
	items := stmt.Items
	var hidden []column.Column
	if stmt.Aggregating() {
		if node, items, hidden, err = planAggregate(node, stmt); err != nil {
			return nil, err
		}
		if stmt.Having != nil {
			if node, err = plan.NewFilter(node, stmt.Having); err != nil {
				return nil, err
			}
		}
	}
	input := node
	if node, err = plan.NewProject(input, append(append([]column.Column{}, items...), hidden...)); err != nil {
		return nil, err
	}
	if len(stmt.OrderBy) > 0 {
		sorted, err := plan.NewSort(node, stmt.OrderBy)
		if err != nil {
			// ORDER BY may name input columns the projection dropped
			if sorted, err = plan.NewSort(input, stmt.OrderBy); err != nil {
				return nil, err
			}
			if node, err = plan.NewProject(sorted, append(append([]column.Column{}, items...), hidden...)); err != nil {
				return nil, err
			}
		} else {
			node = sorted
		}
	}
	if stmt.Limit >= 0 {
		if node, err = plan.NewLimit(node, stmt.Limit); err != nil {
			return nil, err
		}
	}
	if len(hidden) > 0 {
		visible := make([]column.Column, len(items))
		fields := node.Schema().Fields
		for i := range items {
			visible[i] = column.At(i, fields[i])
		}
		if node, err = plan.NewProject(node, visible); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// planAggregate builds the aggregate of stmt and rewrites the select items to refer to
// its output. hidden are the HAVING/ORDER BY aggregates that must not be selected.
func planAggregate(node plan.Node, stmt *sql.Select) (plan.Node, []column.Column, []column.Column, error) {
	var aggregates []column.Column
	for _, item := range stmt.Items {
		if _, star := column.IsStar(item); star {
			return nil, nil, nil, errors.New("* is not allowed in an aggregating select")
		}
		if column.IsAggregate(item) {
			aggregates = append(aggregates, item)
		}
	}
	names := map[string]bool{}
	for _, a := range aggregates {
		names[column.Name(a)] = true
	}
	var hiddenNames []string
	for _, h := range stmt.Hidden {
		if names[column.Name(h)] {
			continue
		}
		names[column.Name(h)] = true
		aggregates = append(aggregates, h)
		hiddenNames = append(hiddenNames, column.Name(h))
	}
	agg, err := plan.NewAggregate(node, stmt.GroupBy, aggregates)
	if err != nil {
		return nil, nil, nil, err
	}
	fields := agg.Schema().Fields
	offset := len(stmt.GroupBy)
	items := make([]column.Column, len(stmt.Items))
	next := 0
	for i, item := range stmt.Items {
		if column.IsAggregate(item) {
			items[i] = column.At(offset+next, fields[offset+next])
			next++
			continue
		}
		items[i] = item
		// a selected grouping expression reads the key instead of being evaluated again
		for k, g := range stmt.GroupBy {
			if column.Unalias(item).String() != column.Unalias(g).String() {
				continue
			}
			if _, isRef := column.RefName(column.Unalias(item)); isRef {
				break
			}
			items[i] = column.Alias(column.At(k, fields[k]), column.Name(item))
			break
		}
	}
	hidden := make([]column.Column, len(hiddenNames))
	for i := range hiddenNames {
		hidden[i] = column.At(offset+next+i, fields[offset+next+i])
	}
	return agg, items, hidden, nil
}
