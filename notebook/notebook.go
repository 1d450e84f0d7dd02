// Package notebook is the lesson sequence of the tutorial: each lesson builds streaming
// queries with the stream API against the sample data and prints what they produce.
package notebook

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/broadcaster"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/stream"
	"github.com/pkg/errors"
)

var ErrUnknownLesson = errors.New("unknown lesson")

// Person, User and Transaction are the records of the sample data; their schemas are
// inferred from the struct fields.
type Person struct {
	Name string `table:"name"`
	Age  int    `table:"age"`
	City string `table:"city"`
}

type User struct {
	UserID int    `table:"user_id"`
	Name   string `table:"name"`
}

type Transaction struct {
	UserID    int       `table:"user_id"`
	Amount    float64   `table:"amount"`
	Timestamp time.Time `table:"ts"`
}

// Env is what lessons run against.
type Env struct {
	Session *stream.Session
	// DataDir holds people/, transactions/, users.csv and lines.txt.
	DataDir string
	Out     io.Writer
	Logger  log.Logger
	// Broadcast configures the socket lesson; a relative File is resolved against DataDir.
	Broadcast broadcaster.Options
	// SocketDuration bounds the socket lesson while the broadcaster loops.
	SocketDuration time.Duration
	// Trigger drives the file lessons. AvailableNow ends them once the files are processed.
	Trigger execution.Trigger
}

func (e *Env) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(e.DataDir, name)
}

func (e *Env) title(text string) {
	_, _ = fmt.Fprintf(e.Out, "\n== %s ==\n", text)
}

// await waits for a query started with a terminating trigger, or stops it when ctx ends.
func (e *Env) await(ctx context.Context, query *execution.StreamingQuery) error {
	err := query.AwaitTermination(ctx)
	if ctx.Err() != nil {
		return query.Stop()
	}
	return err
}

type Lesson struct {
	Name  string
	Title string
	Run   func(ctx context.Context, env *Env) error
}

// Lessons lists the lessons in teaching order.
func Lessons() []Lesson {
	return []Lesson{
		{Name: "socket-word-count", Title: "Counting words arriving on a socket", Run: SocketWordCount},
		{Name: "file-people", Title: "Streaming CSV files with a schema inferred from a struct", Run: FilePeople},
		{Name: "people-aggregation", Title: "Aggregating people per city in update and complete mode", Run: PeopleAggregation},
		{Name: "stream-static-join", Title: "Joining a transaction stream with a static users table", Run: StreamStaticJoin},
		{Name: "sql", Title: "Querying streams with SQL and a memory table", Run: SQL},
	}
}

func Find(name string) (Lesson, error) {
	for _, l := range Lessons() {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	return Lesson{}, errors.WithMessagef(ErrUnknownLesson, "%q", name)
}

// Run runs the named lesson, or every lesson in order for "all".
func Run(ctx context.Context, env *Env, name string) error {
	if env.Logger == nil {
		env.Logger = log.Global()
	}
	lessons := Lessons()
	if !strings.EqualFold(name, "all") {
		lesson, err := Find(name)
		if err != nil {
			return err
		}
		lessons = []Lesson{lesson}
	}
	for _, lesson := range lessons {
		env.title(lesson.Title)
		env.Logger.Infow("running lesson.", "lesson", lesson.Name)
		if err := lesson.Run(ctx, env); err != nil {
			return errors.WithMessagef(err, "lesson %s failed", lesson.Name)
		}
	}
	return nil
}
