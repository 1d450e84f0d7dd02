package stream

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/source/memory"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type transaction struct {
	UserID int     `table:"user_id"`
	Amount float64 `table:"amount"`
}

type user struct {
	UserID int    `table:"user_id"`
	Name   string `table:"name"`
}

type spend struct {
	Name  string  `table:"name"`
	Total float64 `table:"total"`
}

func newSession(t *testing.T) (*Session, *bytes.Buffer) {
	out := &bytes.Buffer{}
	options := DefaultSessionOptions
	options.Out = out
	options.Logger = log.Nop()
	s := NewSession(options)
	t.Cleanup(func() { _ = s.Stop() })
	return s, out
}

func must[T any](v T, err error) func(t *testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func registerTables(t *testing.T, s *Session) {
	tx := must(FromStructs(s, []transaction{
		{1, 10}, {1, 20}, {2, 5}, {3, 1}, {3, 2}, {3, 3},
	}))(t)
	tx.CreateOrReplaceTempView("tx")
	users := must(FromStructs(s, []user{{1, "ann"}, {2, "bob"}, {3, "cid"}}))(t)
	users.CreateOrReplaceTempView("users")
}

func TestSQL(t *testing.T) {
	s, _ := newSession(t)
	registerTables(t, s)

	df := must(s.SQL(`select user_id, sum(amount) as total, count(*)
		from tx group by user_id having count(*) > 1 order by total desc`))(t)
	assert.Equal(t, []string{"user_id", "total", "count(1)"}, df.Columns())
	assert.Equal(t, []types.Row{{int64(1), 30.0, int64(2)}, {int64(3), 6.0, int64(3)}}, must(df.Collect())(t))

	df = must(s.SQL(`select user_id from tx group by user_id order by count(*) desc limit 1`))(t)
	assert.Equal(t, []string{"user_id"}, df.Columns())
	assert.Equal(t, []types.Row{{int64(3)}}, must(df.Collect())(t))

	df = must(s.SQL(`select u.name, t.amount from tx t join users u on t.user_id = u.user_id
		where t.amount > 5 order by t.amount`))(t)
	assert.Equal(t, []types.Row{{"ann", 10.0}, {"ann", 20.0}}, must(df.Collect())(t))

	_, err := s.SQL("select * from missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestDataFrameTransformations(t *testing.T) {
	s, out := newSession(t)
	registerTables(t, s)
	tx := must(s.Table("TX"))(t)
	users := must(s.Table("users"))(t)

	doubled := must(tx.WithColumn("amount", column.Mul(column.Col("amount"), column.Lit(2))))(t)
	assert.Equal(t, []string{"user_id", "amount"}, doubled.Columns())
	renamed := must(doubled.WithColumnRenamed("amount", "spent"))(t)
	joined := must(renamed.JoinUsing(users, []string{"user_id"}, "inner"))(t)
	dropped := must(joined.Drop("user_id"))(t)
	assert.Equal(t, []string{"spent", "name"}, dropped.Columns())

	totals := must(dropped.GroupBy("name").Agg(column.Alias(column.Sum("spent"), "total")))(t)
	big := must(totals.Filter("total > 10"))(t)
	ordered := must(big.OrderBy(column.Desc("total")))(t)
	spends, err := CollectAs[spend](ordered)
	require.NoError(t, err)
	assert.Equal(t, []spend{{"ann", 60}, {"cid", 12}}, spends)

	n, err := ordered.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, ordered.Show(1, true))
	assert.Equal(t, ""+
		"+----+-----+\n"+
		"|name|total|\n"+
		"+----+-----+\n"+
		"| ann| 60.0|\n"+
		"+----+-----+\n"+
		"only showing top 1 row\n", out.String())

	names := must(users.SelectExpr("upper(name) AS name"))(t)
	limited := must(names.Limit(2))(t)
	assert.Equal(t, []types.Row{{"ANN"}, {"BOB"}}, must(limited.Collect())(t))

	out.Reset()
	users.PrintSchema()
	assert.Contains(t, out.String(), "name: string")
}

func TestStreamingActionsAreRejected(t *testing.T) {
	s, _ := newSession(t)
	df := s.MemoryStream(memory.NewStream(types.NewSchema(types.NewField("value", types.StringType))))
	assert.True(t, df.IsStreaming())
	_, err := df.Collect()
	assert.ErrorIs(t, err, plan.ErrStreamingAction)

	static := must(FromStructs(s, []user{{1, "ann"}}))(t)
	_, err = static.WriteStream().Start()
	assert.ErrorIs(t, err, plan.ErrNotStreaming)
}

func TestStreamingWordCountToMemoryTable(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newSession(t)
	lines := memory.NewStream(types.NewSchema(types.NewField("value", types.StringType)))
	words := must(s.MemoryStream(lines).Select(
		column.Alias(column.Explode(column.Split(column.Col("value"), " ")), "word")))(t)
	counts := must(words.GroupBy("word").Count())(t)

	q, err := counts.WriteStream().Format("memory").QueryName("counts").OutputMode("complete").Start()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = lines.AddData(types.Row{"a b a"})
	require.NoError(t, err)
	require.NoError(t, q.ProcessAllAvailable(ctx))
	result := must(s.SQL("select * from counts order by word"))(t)
	assert.Equal(t, []types.Row{{"a", int64(2)}, {"b", int64(1)}}, must(result.Collect())(t))

	_, err = counts.WriteStream().Format("memory").QueryName("counts").OutputMode("complete").Start()
	assert.ErrorIs(t, err, ErrDuplicateQueryName)

	assert.Len(t, s.Streams().Active(), 1)
	assert.Same(t, q, s.Streams().Get(q.ID()))
	require.NoError(t, s.Stop())
	assert.Empty(t, s.Streams().Active())
	assert.NoError(t, s.Streams().AwaitAnyTermination(ctx))

	_, err = counts.WriteStream().Format("memory").QueryName("again").OutputMode("complete").Start()
	assert.ErrorIs(t, err, ErrSessionStopped)
}

func TestForeachBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newSession(t)
	users := memory.NewStream(types.NewSchema(types.NewField("user_id", types.LongType), types.NewField("name", types.StringType)))
	_, err := users.AddData(types.Row{int64(1), "ann"}, types.Row{int64(2), "bob"})
	require.NoError(t, err)

	var (
		ids   []int64
		names []types.Row
	)
	q, err := s.MemoryStream(users).WriteStream().
		Trigger(execution.AvailableNow()).
		ForeachBatch(func(batch *DataFrame, batchID int64) error {
			ids = append(ids, batchID)
			selected, err := batch.Select("name")
			if err != nil {
				return err
			}
			rows, err := selected.Collect()
			names = append(names, rows...)
			return err
		}).Start()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.AwaitTermination(ctx))
	assert.Equal(t, []int64{0}, ids)
	assert.Equal(t, []types.Row{{"ann"}, {"bob"}}, names)
}

func TestReadStreamCSV(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newSession(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("name,age,city\nann,30,Rome\nbob,17,Oslo\n"), 0o644))

	people := must(s.ReadStream().
		SchemaDDL("name STRING, age LONG, city STRING").
		Option("header", "true").
		Option("maxFilesPerTrigger", "1").
		CSV(dir))(t)
	adults := must(people.Filter(column.Ge(column.Col("age"), column.Lit(18))))(t)
	q, err := must(adults.Select("name", "city"))(t).WriteStream().
		Format("memory").QueryName("adults").Trigger(execution.AvailableNow()).Start()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.AwaitTermination(ctx))

	table := must(s.Table("adults"))(t)
	assert.Equal(t, []types.Row{{"ann", "Rome"}}, must(table.Collect())(t))

	static := must(s.Read().Option("header", "true").Option("inferSchema", "true").CSV(dir))(t)
	assert.Equal(t, int64(2), must(static.Count())(t))

	_, err = s.ReadStream().Format("parquet").Load(dir)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = s.ReadStream().SchemaDDL("name WHAT").CSV(dir)
	assert.Error(t, err)
}
