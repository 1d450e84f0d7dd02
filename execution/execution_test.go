package execution

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/sink/foreach"
	sinkmemory "github.com/RuiFG/streaming/streaming-table/sink/memory"
	"github.com/RuiFG/streaming/streaming-table/source/memory"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	wordSchema  = types.NewSchema(types.NewField("word", types.StringType))
	eventSchema = types.NewSchema(
		types.NewField("word", types.StringType),
		types.NewField("ts", types.TimestampType),
	)
	userSchema = types.NewSchema(
		types.NewField("user_id", types.LongType),
		types.NewField("name", types.StringType),
	)
	txSchema = types.NewSchema(
		types.NewField("user_id", types.LongType),
		types.NewField("amount", types.DoubleType),
	)
)

func must[T any](v T, err error) func(t *testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func at(second int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, second, 0, time.UTC)
}

func relation(s *memory.Stream) *plan.StreamingRelation {
	return &plan.StreamingRelation{Name: s.String(), Output: s.Schema(), New: s.Factory()}
}

func testOptions(name string, mode plan.OutputMode) QueryOptions {
	options := DefaultQueryOptions
	options.Name = name
	options.Mode = mode
	options.Logger = log.Nop()
	options.IdleDelay = time.Millisecond
	return options
}

func sortRows(rows []types.Row) []types.Row {
	sort.Slice(rows, func(i, j int) bool { return rows[i].String() < rows[j].String() })
	return rows
}

func wordCount(t *testing.T, s *memory.Stream) plan.Node {
	return must(plan.NewAggregate(relation(s), column.Cols("word"), []column.Column{column.Alias(column.CountAll(), "count")}))(t)
}

func TestExecuteBatch(t *testing.T) {
	users := plan.NewLocalRelation("users", userSchema, []types.Row{
		{int64(1), "ann"}, {int64(2), "bob"}, {int64(3), "cid"}, {int64(4), nil},
	})
	filtered := must(plan.NewFilter(users, column.Gt(column.Col("user_id"), column.Lit(1))))(t)
	projected := must(plan.NewProject(filtered, []column.Column{column.Alias(column.Upper(column.Col("name")), "name")}))(t)
	sorted := must(plan.NewSort(projected, []column.SortOrder{column.Desc("name")}))(t)
	limited := must(plan.NewLimit(sorted, 2))(t)

	rows, err := Execute(limited)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"CID"}, {"BOB"}}, rows)

	_, err = Execute(&plan.StreamingRelation{Name: "s", Output: wordSchema})
	assert.Error(t, err)
}

func TestExecuteGlobalAggregate(t *testing.T) {
	empty := plan.NewLocalRelation("tx", txSchema, nil)
	agg := must(plan.NewAggregate(empty, nil, []column.Column{column.CountAll(), column.Sum("amount")}))(t)
	rows, err := Execute(agg)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{int64(0), nil}}, rows)
}

func TestExecuteJoins(t *testing.T) {
	users := plan.NewSubqueryAlias(plan.NewLocalRelation("users", userSchema, []types.Row{
		{int64(1), "ann"}, {int64(2), "bob"}, {nil, "nobody"},
	}), "u")
	tx := plan.NewSubqueryAlias(plan.NewLocalRelation("tx", txSchema, []types.Row{
		{int64(1), 10.0}, {int64(1), 5.0}, {int64(3), 7.0}, {nil, 1.0},
	}), "t")
	on := column.Eq(column.Col("t.user_id"), column.Col("u.user_id"))

	cases := []struct {
		name     string
		joinType plan.JoinType
		want     []types.Row
	}{
		{"inner", plan.InnerJoin, []types.Row{
			{int64(1), 10.0, int64(1), "ann"},
			{int64(1), 5.0, int64(1), "ann"},
		}},
		{"left outer", plan.LeftOuterJoin, []types.Row{
			{int64(1), 10.0, int64(1), "ann"},
			{int64(1), 5.0, int64(1), "ann"},
			{int64(3), 7.0, nil, nil},
			{nil, 1.0, nil, nil},
		}},
		{"left semi", plan.LeftSemiJoin, []types.Row{{int64(1), 10.0}, {int64(1), 5.0}}},
		{"left anti", plan.LeftAntiJoin, []types.Row{{int64(3), 7.0}, {nil, 1.0}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			j := must(plan.NewJoin(tx, users, c.joinType, on))(t)
			rows, err := Execute(j)
			require.NoError(t, err)
			assert.Equal(t, sortRows(c.want), sortRows(rows))
		})
	}

	t.Run("using with residual", func(t *testing.T) {
		j := must(plan.NewJoinUsing(
			plan.NewLocalRelation("tx", txSchema, []types.Row{{int64(1), 10.0}, {int64(2), 1.0}}),
			plan.NewLocalRelation("users", userSchema, []types.Row{{int64(1), "ann"}, {int64(2), "bob"}}),
			plan.InnerJoin, []string{"user_id"}))(t)
		assert.Equal(t, []string{"user_id", "amount", "name"}, j.Schema().Names())
		f := must(plan.NewFilter(j, column.Gt(column.Col("amount"), column.Lit(2))))(t)
		rows, err := Execute(f)
		require.NoError(t, err)
		assert.Equal(t, []types.Row{{int64(1), 10.0, "ann"}}, rows)
	})
}

func TestQueryCompleteMode(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := memory.NewStream(wordSchema)
	node := wordCount(t, s)
	table := sinkmemory.New("counts", node.Schema())
	q, err := Start(node, table, testOptions("counts", plan.Complete))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = s.AddData(types.Row{"a"}, types.Row{"b"}, types.Row{"a"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	assert.Equal(t, []types.Row{{"a", int64(2)}, {"b", int64(1)}}, sortRows(table.Rows()))

	_, err = s.AddData(types.Row{"b"}, types.Row{"c"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	assert.Equal(t, []types.Row{{"a", int64(2)}, {"b", int64(2)}, {"c", int64(1)}}, sortRows(table.Rows()))

	progress := q.LastProgress()
	require.NotNil(t, progress)
	assert.Equal(t, int64(1), progress.BatchID)
	assert.Equal(t, int64(2), progress.NumInputRows)
	assert.Equal(t, int64(3), progress.Sink.NumOutputRows)
	require.Len(t, progress.StateOperators, 1)
	assert.Equal(t, int64(3), progress.StateOperators[0].NumRowsTotal)
	assert.Equal(t, int64(2), progress.StateOperators[0].NumRowsUpdated)
	assert.Len(t, q.RecentProgress(), 2)

	assert.True(t, q.IsActive())
	require.NoError(t, q.Stop())
	assert.False(t, q.IsActive())
	assert.NoError(t, q.Exception())
	assert.Equal(t, "Stopped", q.Status().Message)
}

func TestQueryUpdateMode(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := memory.NewStream(wordSchema)
	node := wordCount(t, s)
	var batches [][]types.Row
	q, err := Start(node, foreach.New(func(b *sink.Batch) error {
		batches = append(batches, sortRows(b.Rows))
		return nil
	}), testOptions("", plan.Update))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = s.AddData(types.Row{"a"}, types.Row{"b"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	_, err = s.AddData(types.Row{"a"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	require.NoError(t, q.Stop())

	assert.Equal(t, [][]types.Row{
		{{"a", int64(1)}, {"b", int64(1)}},
		{{"a", int64(2)}},
	}, batches)
}

func TestQueryAppendModeWithWatermark(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := memory.NewStream(eventSchema)
	watermarked := must(plan.NewWatermark(relation(s), "ts", 5*time.Second))(t)
	node := must(plan.NewAggregate(watermarked,
		[]column.Column{column.Window(column.Col("ts"), 10*time.Second, 0)},
		[]column.Column{column.Alias(column.CountAll(), "count")}))(t)
	table := sinkmemory.New("windows", node.Schema())
	q, err := Start(node, table, testOptions("windows", plan.Append))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	add := func(rows ...types.Row) {
		_, err := s.AddData(rows...)
		require.NoError(t, err)
		require.NoError(t, q.ProcessAllAvailable(ctx))
	}
	windowStarts := func() map[int64]int64 {
		out := map[int64]int64{}
		for _, row := range table.Rows() {
			out[row[0].(types.Window).Start.Unix()-at(0).Unix()] = row[1].(int64)
		}
		return out
	}

	add(types.Row{"a", at(1)}, types.Row{"b", at(3)})
	assert.Empty(t, table.Rows())

	// watermark moves to 11s, which closes [0s, 10s) in the following no-data batch
	add(types.Row{"c", at(16)})
	assert.Equal(t, map[int64]int64{0: 2}, windowStarts())

	add(types.Row{"late", at(4)})
	progress := q.LastProgress()
	require.NotNil(t, progress)
	assert.Equal(t, int64(1), progress.StateOperators[0].NumRowsDroppedByWatermark)
	assert.Equal(t, "2024-01-01T00:00:11.000Z", progress.EventTime["watermark"])

	add(types.Row{"d", at(26)})
	assert.Equal(t, map[int64]int64{0: 2, 10: 1}, windowStarts())
	require.NoError(t, q.Stop())
}

func TestQueryRecoversFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s := memory.NewStream(wordSchema)
	node := wordCount(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	options := testOptions("recover", plan.Complete)
	options.CheckpointLocation = dir

	first := sinkmemory.New("first", node.Schema())
	q, err := Start(node, first, options)
	require.NoError(t, err)
	_, err = s.AddData(types.Row{"a"}, types.Row{"b"}, types.Row{"a"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	require.NoError(t, q.Stop())
	id, runID := q.ID(), q.RunID()

	_, err = s.AddData(types.Row{"b"})
	require.NoError(t, err)
	second := sinkmemory.New("second", node.Schema())
	q, err = Start(node, second, options)
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	require.NoError(t, q.Stop())

	assert.Equal(t, id, q.ID())
	assert.NotEqual(t, runID, q.RunID())
	assert.Equal(t, []types.Row{{"a", int64(2)}, {"b", int64(2)}}, sortRows(second.Rows()))
	assert.Equal(t, int64(1), q.LastProgress().BatchID)
}

func TestQueryTriggers(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := memory.NewStream(wordSchema)
	_, err := s.AddData(types.Row{"a"})
	require.NoError(t, err)
	node := wordCount(t, s)
	for _, trigger := range []Trigger{Once(), AvailableNow()} {
		table := sinkmemory.New("triggered", node.Schema())
		options := testOptions("", plan.Complete)
		options.Trigger = trigger
		q, err := Start(node, table, options)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		require.NoError(t, q.AwaitTermination(ctx))
		cancel()
		assert.Equal(t, []types.Row{{"a", int64(1)}}, table.Rows(), trigger.String())
		assert.False(t, q.IsActive())
	}
}

type recordingListener struct {
	started, progressed, terminated int
	err                             error
}

func (l *recordingListener) OnQueryStarted(*StreamingQuery) { l.started++ }
func (l *recordingListener) OnQueryProgress(*StreamingQuery, *StreamingQueryProgress) {
	l.progressed++
}
func (l *recordingListener) OnQueryTerminated(_ *StreamingQuery, err error) {
	l.terminated++
	l.err = err
}

func TestQueryTerminatesOnSinkError(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := memory.NewStream(wordSchema)
	boom := errors.New("boom")
	listener := &recordingListener{}
	options := testOptions("failing", plan.Complete)
	options.Listener = listener
	q, err := Start(wordCount(t, s), foreach.New(func(*sink.Batch) error { return boom }), options)
	require.NoError(t, err)
	_, err = s.AddData(types.Row{"a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = q.AwaitTermination(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, q.Exception(), boom)
	assert.ErrorIs(t, q.ProcessAllAvailable(ctx), boom)
	assert.Equal(t, 1, listener.started)
	assert.Equal(t, 0, listener.progressed)
	assert.Equal(t, 1, listener.terminated)
	assert.ErrorIs(t, listener.err, boom)
}

func TestStartRejectsUnsupportedMode(t *testing.T) {
	s := memory.NewStream(wordSchema)
	_, err := Start(relation(s), sink.Noop{}, testOptions("", plan.Complete))
	assert.Error(t, err)
}
