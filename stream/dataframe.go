package stream

import (
	"fmt"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink/console"
	"github.com/RuiFG/streaming/streaming-table/sql"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

// DataFrame is an immutable logical plan bound to a session. Transformations return a
// new DataFrame; actions run the plan.
type DataFrame struct {
	session *Session
	plan    plan.Node
}

func (df *DataFrame) Plan() plan.Node { return df.plan }

func (df *DataFrame) Schema() types.Schema { return df.plan.Schema() }

func (df *DataFrame) Columns() []string { return df.plan.Schema().Names() }

// IsStreaming reports whether the DataFrame reads an unbounded source.
func (df *DataFrame) IsStreaming() bool { return df.plan.IsStreaming() }

func (df *DataFrame) Explain() string { return plan.Explain(df.plan) }

func (df *DataFrame) PrintSchema() {
	_, _ = fmt.Fprint(df.session.options.Out, df.plan.Schema().TreeString())
}

func (df *DataFrame) derive(node plan.Node, err error) (*DataFrame, error) {
	if err != nil {
		return nil, err
	}
	return df.session.newDataFrame(node), nil
}

// columns accepts column names and Columns.
func columns(values []any) []column.Column {
	out := make([]column.Column, len(values))
	for i, v := range values {
		if name, ok := v.(string); ok {
			out[i] = column.Col(name)
			continue
		}
		out[i] = column.Of(v)
	}
	return out
}

// Select projects columns given as names or Columns.
func (df *DataFrame) Select(cols ...any) (*DataFrame, error) {
	return df.derive(plan.NewProject(df.plan, columns(cols)))
}

// SelectExpr projects SQL expressions such as "upper(name) AS name".
func (df *DataFrame) SelectExpr(exprs ...string) (*DataFrame, error) {
	cols := make([]column.Column, len(exprs))
	for i, e := range exprs {
		c, err := sql.ParseExpr(e)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return df.derive(plan.NewProject(df.plan, cols))
}

func condition(v any) (column.Column, error) {
	if text, ok := v.(string); ok {
		return sql.ParseExpr(text)
	}
	c, ok := v.(column.Column)
	if !ok {
		return nil, errors.Errorf("condition must be a Column or a SQL expression, got %T", v)
	}
	return c, nil
}

// Filter keeps the rows matching condition, a Column or a SQL expression string.
func (df *DataFrame) Filter(cond any) (*DataFrame, error) {
	c, err := condition(cond)
	if err != nil {
		return nil, err
	}
	return df.derive(plan.NewFilter(df.plan, c))
}

// Where is an alias of Filter.
func (df *DataFrame) Where(cond any) (*DataFrame, error) { return df.Filter(cond) }

// WithColumn adds c as name, replacing an existing column of that name in place.
func (df *DataFrame) WithColumn(name string, c column.Column) (*DataFrame, error) {
	fields := df.plan.Schema().Fields
	cols := make([]column.Column, 0, len(fields)+1)
	replaced := false
	for i, f := range fields {
		if strings.EqualFold(f.Name, name) {
			cols = append(cols, column.Alias(c, name))
			replaced = true
			continue
		}
		cols = append(cols, column.At(i, f))
	}
	if !replaced {
		cols = append(cols, column.Alias(c, name))
	}
	return df.derive(plan.NewProject(df.plan, cols))
}

// WithColumnRenamed renames a column; a missing column is a no-op.
func (df *DataFrame) WithColumnRenamed(existing, name string) (*DataFrame, error) {
	fields := df.plan.Schema().Fields
	cols := make([]column.Column, len(fields))
	for i, f := range fields {
		cols[i] = column.At(i, f)
		if strings.EqualFold(f.Name, existing) {
			cols[i] = column.Alias(cols[i], name)
		}
	}
	return df.derive(plan.NewProject(df.plan, cols))
}

// Drop removes the named columns; missing names are ignored.
func (df *DataFrame) Drop(names ...string) (*DataFrame, error) {
	fields := df.plan.Schema().Fields
	var cols []column.Column
	for i, f := range fields {
		dropped := false
		for _, name := range names {
			if strings.EqualFold(f.Name, name) {
				dropped = true
				break
			}
		}
		if !dropped {
			cols = append(cols, column.At(i, f))
		}
	}
	return df.derive(plan.NewProject(df.plan, cols))
}

// Alias qualifies every column with alias, for joins on same-named columns.
func (df *DataFrame) Alias(alias string) *DataFrame {
	return df.session.newDataFrame(plan.NewSubqueryAlias(df.plan, alias))
}

// GroupBy groups by columns given as names or Columns, such as column.Window.
func (df *DataFrame) GroupBy(cols ...any) *GroupedData {
	return &GroupedData{df: df, grouping: columns(cols)}
}

// Join joins with right on condition. joinType is "inner", "left_outer", "left_semi"...
func (df *DataFrame) Join(right *DataFrame, on any, joinType string) (*DataFrame, error) {
	t, err := plan.ParseJoinType(joinType)
	if err != nil {
		return nil, err
	}
	c, err := condition(on)
	if err != nil {
		return nil, err
	}
	return df.derive(plan.NewJoin(df.plan, right.plan, t, c))
}

// JoinUsing joins on equality of the named columns, which appear once in the result.
func (df *DataFrame) JoinUsing(right *DataFrame, using []string, joinType string) (*DataFrame, error) {
	t, err := plan.ParseJoinType(joinType)
	if err != nil {
		return nil, err
	}
	return df.derive(plan.NewJoinUsing(df.plan, right.plan, t, using))
}

// OrderBy sorts by SortOrders, or ascending by column names.
func (df *DataFrame) OrderBy(orders ...any) (*DataFrame, error) {
	out := make([]column.SortOrder, len(orders))
	for i, o := range orders {
		switch x := o.(type) {
		case column.SortOrder:
			out[i] = x
		default:
			out[i] = column.Asc(columns([]any{x})[0])
		}
	}
	return df.derive(plan.NewSort(df.plan, out))
}

func (df *DataFrame) Limit(n int) (*DataFrame, error) {
	return df.derive(plan.NewLimit(df.plan, n))
}

// WithWatermark declares eventTime as the event time column, allowing rows up to
// delay (an interval such as "10 minutes") late.
func (df *DataFrame) WithWatermark(eventTime, delay string) (*DataFrame, error) {
	d, err := types.ParseInterval(delay)
	if err != nil {
		return nil, err
	}
	return df.derive(plan.NewWatermark(df.plan, eventTime, d))
}

// CreateOrReplaceTempView registers the DataFrame for Session.SQL and Session.Table.
func (df *DataFrame) CreateOrReplaceTempView(name string) {
	df.session.registerView(name, df)
}

// Collect runs a static DataFrame and returns its rows.
func (df *DataFrame) Collect() ([]types.Row, error) {
	return execution.Execute(df.plan)
}

// CollectAs collects rows into values of T, matching columns to fields by name.
func CollectAs[T any](df *DataFrame) ([]T, error) {
	rows, err := df.Collect()
	if err != nil {
		return nil, err
	}
	schema := df.plan.Schema()
	out := make([]T, len(rows))
	for i, row := range rows {
		if out[i], err = types.ToStruct[T](row, schema); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (df *DataFrame) Count() (int64, error) {
	rows, err := df.Collect()
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Show prints the first numRows rows, cutting cells longer than 20 characters when
// truncate is set.
func (df *DataFrame) Show(numRows int, truncate bool) error {
	rows, err := df.Collect()
	if err != nil {
		return err
	}
	width := 0
	if truncate {
		width = console.DefaultTruncate
	}
	_, err = fmt.Fprint(df.session.options.Out, console.ShowString(df.plan.Schema(), rows, numRows, width))
	return err
}

func (df *DataFrame) WriteStream() *DataStreamWriter {
	return &DataStreamWriter{df: df, format: "console", mode: plan.Append, trigger: execution.ProcessingTime(0), opts: map[string]string{}}
}

// GroupedData is a DataFrame grouped by keys, waiting for its aggregates.
type GroupedData struct {
	df       *DataFrame
	grouping []column.Column
}

// Agg computes aggregate columns such as column.Count("*") per group.
func (g *GroupedData) Agg(aggregates ...column.Column) (*DataFrame, error) {
	return g.df.derive(plan.NewAggregate(g.df.plan, g.grouping, aggregates))
}

// Count counts the rows of every group into a "count" column.
func (g *GroupedData) Count() (*DataFrame, error) {
	return g.Agg(column.Alias(column.CountAll(), "count"))
}

func (g *GroupedData) apply(fn func(any) column.Column, names []string) (*DataFrame, error) {
	aggregates := make([]column.Column, len(names))
	for i, name := range names {
		aggregates[i] = fn(column.Col(name))
	}
	return g.Agg(aggregates...)
}

func (g *GroupedData) Sum(names ...string) (*DataFrame, error) { return g.apply(column.Sum, names) }
func (g *GroupedData) Avg(names ...string) (*DataFrame, error) { return g.apply(column.Avg, names) }
func (g *GroupedData) Min(names ...string) (*DataFrame, error) { return g.apply(column.Min, names) }
func (g *GroupedData) Max(names ...string) (*DataFrame, error) { return g.apply(column.Max, names) }
