package notebook

import (
	"context"
	"net"
	"time"

	"github.com/RuiFG/streaming/streaming-table/broadcaster"
	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/stream"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/goccy/go-json"
	"go.uber.org/multierr"
)

// SocketWordCount serves lines.txt through the broadcaster on its own goroutine and
// counts the words a socket stream reads from it, printing the full counts every batch.
func SocketWordCount(ctx context.Context, env *Env) error {
	options := env.Broadcast
	options.File = env.path(options.File)
	if options.Logger == nil {
		options.Logger = env.Logger
	}
	b := broadcaster.New(options)
	if err := b.Listen(); err != nil {
		return err
	}
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	served := safe.Go(func() error { return b.Serve(serveCtx) })

	query, err := func() (*stream.DataFrame, error) {
		host, port, err := net.SplitHostPort(b.Addr().String())
		if err != nil {
			return nil, err
		}
		lines, err := env.Session.ReadStream().Format("socket").Option("host", host).Option("port", port).Load()
		if err != nil {
			return nil, err
		}
		words, err := lines.Select(column.Alias(column.Explode(column.Split(column.Col("value"), " ")), "word"))
		if err != nil {
			return nil, err
		}
		counts, err := words.GroupBy("word").Count()
		if err != nil {
			return nil, err
		}
		return counts.OrderBy(column.Desc("count"), "word")
	}()
	if err != nil {
		stopServing()
		return multierr.Append(err, <-served)
	}
	wordCount, err := query.WriteStream().Format("console").OutputMode("complete").QueryName("word_count").Start()
	if err != nil {
		stopServing()
		return multierr.Append(err, <-served)
	}

	var (
		timeout  <-chan time.Time
		serveErr error
		finished bool
	)
	if env.SocketDuration > 0 {
		timer := time.NewTimer(env.SocketDuration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case serveErr = <-served:
		finished = true
	case <-timeout:
	case <-ctx.Done():
	}
	if finished {
		err = catchUp(ctx, wordCount, b.Sent())
	}
	stopServing()
	if !finished {
		serveErr = <-served
	}
	return multierr.Combine(serveErr, err, wordCount.Stop())
}

// catchUp processes batches until the query has read sent socket lines.
func catchUp(ctx context.Context, query *execution.StreamingQuery, sent int64) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		if err := query.ProcessAllAvailable(ctx); err != nil {
			return err
		}
		if !query.IsActive() {
			return query.Exception()
		}
		if receivedLines(query) >= sent {
			return nil
		}
		timer.Reset(10 * time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// receivedLines reads the socket offset of the last batch, the number of lines read.
func receivedLines(query *execution.StreamingQuery) int64 {
	progress := query.LastProgress()
	if progress == nil || len(progress.Sources) == 0 {
		return 0
	}
	var offset source.Offset
	if err := json.Unmarshal([]byte(progress.Sources[0].EndOffset), &offset); err != nil {
		return 0
	}
	var lines int64
	for _, n := range offset {
		lines += n
	}
	return lines
}

func (e *Env) people() (*stream.DataFrame, error) {
	schema, err := types.Infer[Person]()
	if err != nil {
		return nil, err
	}
	return e.Session.ReadStream().
		Schema(schema).
		Option("header", "true").
		Option("maxFilesPerTrigger", "1").
		CSV(e.path("people"))
}

func (e *Env) transactions(maxFilesPerTrigger string) (*stream.DataFrame, error) {
	schema, err := types.Infer[Transaction]()
	if err != nil {
		return nil, err
	}
	reader := e.Session.ReadStream().Schema(schema).Option("header", "true")
	if maxFilesPerTrigger != "" {
		reader = reader.Option("maxFilesPerTrigger", maxFilesPerTrigger)
	}
	return reader.CSV(e.path("transactions"))
}

// FilePeople streams the people CSV files one file per batch and keeps the adults.
func FilePeople(ctx context.Context, env *Env) error {
	people, err := env.people()
	if err != nil {
		return err
	}
	people.PrintSchema()
	adults, err := people.Filter(column.Ge(column.Col("age"), column.Lit(18)))
	if err != nil {
		return err
	}
	selected, err := adults.Select("name", "city")
	if err != nil {
		return err
	}
	query, err := selected.WriteStream().Format("console").OutputMode("append").QueryName("adults").Trigger(env.Trigger).Start()
	if err != nil {
		return err
	}
	return env.await(ctx, query)
}

// PeopleAggregation runs the same aggregation in update mode, which prints the changed
// cities only, then in complete mode, which prints every city.
func PeopleAggregation(ctx context.Context, env *Env) error {
	people, err := env.people()
	if err != nil {
		return err
	}
	perCity, err := people.GroupBy("city").Agg(
		column.Alias(column.Avg("age"), "avg_age"),
		column.Alias(column.CountAll(), "people"),
	)
	if err != nil {
		return err
	}
	updates, err := perCity.WriteStream().Format("console").OutputMode("update").QueryName("people_per_city_updates").Trigger(env.Trigger).Start()
	if err != nil {
		return err
	}
	if err = env.await(ctx, updates); err != nil {
		return err
	}
	ordered, err := perCity.OrderBy("city")
	if err != nil {
		return err
	}
	complete, err := ordered.WriteStream().Format("console").OutputMode("complete").QueryName("people_per_city").Trigger(env.Trigger).Start()
	if err != nil {
		return err
	}
	return env.await(ctx, complete)
}

// StreamStaticJoin joins the transaction stream with the users file, totals the spend
// per user, and sums hourly revenue over event time windows closed by a watermark.
func StreamStaticJoin(ctx context.Context, env *Env) error {
	users, err := env.Session.Read().Option("header", "true").Option("inferSchema", "true").CSV(env.path("users.csv"))
	if err != nil {
		return err
	}
	if err = users.Show(20, true); err != nil {
		return err
	}
	transactions, err := env.transactions("1")
	if err != nil {
		return err
	}
	joined, err := transactions.JoinUsing(users, []string{"user_id"}, "inner")
	if err != nil {
		return err
	}
	spend, err := joined.GroupBy("name").Agg(
		column.Alias(column.Sum("amount"), "total"),
		column.Alias(column.CountAll(), "purchases"),
	)
	if err != nil {
		return err
	}
	ordered, err := spend.OrderBy(column.Desc("total"))
	if err != nil {
		return err
	}
	query, err := ordered.WriteStream().Format("console").OutputMode("complete").QueryName("spend_per_user").Trigger(env.Trigger).Start()
	if err != nil {
		return err
	}
	if err = env.await(ctx, query); err != nil {
		return err
	}

	all, err := env.transactions("")
	if err != nil {
		return err
	}
	watermarked, err := all.WithWatermark("ts", "30 minutes")
	if err != nil {
		return err
	}
	hourly, err := watermarked.GroupBy(column.Window(column.Col("ts"), time.Hour, 0)).Agg(column.Alias(column.Sum("amount"), "revenue"))
	if err != nil {
		return err
	}
	query, err = hourly.WriteStream().Format("console").OutputMode("append").QueryName("hourly_revenue").
		Option("truncate", "false").Trigger(env.Trigger).Start()
	if err != nil {
		return err
	}
	return env.await(ctx, query)
}

// SQL registers the transaction stream and the users file as views, aggregates them
// with a SQL statement into a memory table, then queries that table with SQL.
func SQL(ctx context.Context, env *Env) error {
	transactions, err := env.transactions("1")
	if err != nil {
		return err
	}
	transactions.CreateOrReplaceTempView("transactions")
	users, err := env.Session.Read().Option("header", "true").Option("inferSchema", "true").CSV(env.path("users.csv"))
	if err != nil {
		return err
	}
	users.CreateOrReplaceTempView("users")

	spend, err := env.Session.SQL(`SELECT u.name, count(*) AS purchases, sum(t.amount) AS total
		FROM transactions t JOIN users u ON t.user_id = u.user_id
		GROUP BY u.name`)
	if err != nil {
		return err
	}
	query, err := spend.WriteStream().Format("memory").QueryName("spend_by_user").OutputMode("complete").Start()
	if err != nil {
		return err
	}
	err = query.ProcessAllAvailable(ctx)
	if err == nil {
		var top *stream.DataFrame
		if top, err = env.Session.SQL("SELECT name, total FROM spend_by_user WHERE purchases > 1 ORDER BY total DESC"); err == nil {
			err = top.Show(20, false)
		}
	}
	return multierr.Append(err, query.Stop())
}
