// Package metrics reports what queries do to a tally scope.
package metrics

import (
	"io"
	"time"

	"github.com/uber-go/tally/v4"
)

const (
	InputRows     = "input_rows"
	OutputRows    = "output_rows"
	Batches       = "batches"
	BatchDuration = "batch_duration"
	StateRows     = "state_rows"
	Watermark     = "watermark_ms"
)

// Query holds the instruments of one streaming query, tagged with its name.
type Query struct {
	InputRows     tally.Counter
	OutputRows    tally.Counter
	Batches       tally.Counter
	BatchDuration tally.Timer
	StateRows     tally.Gauge
	Watermark     tally.Gauge
}

func NewQuery(scope tally.Scope, name string) *Query {
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("query").Tagged(map[string]string{"query": name})
	return &Query{
		InputRows:     scope.Counter(InputRows),
		OutputRows:    scope.Counter(OutputRows),
		Batches:       scope.Counter(Batches),
		BatchDuration: scope.Timer(BatchDuration),
		StateRows:     scope.Gauge(StateRows),
		Watermark:     scope.Gauge(Watermark),
	}
}

// Options configure the root scope of a session.
type Options struct {
	Prefix   string
	Tags     map[string]string
	Reporter tally.CachedStatsReporter
	// Separator joins scope names, prometheus needs "_".
	Separator string
	Interval  time.Duration
}

// NewRootScope builds the session scope. Without a reporter the scope is a noop one.
func NewRootScope(options Options) (tally.Scope, io.Closer) {
	if options.Reporter == nil {
		return tally.NoopScope, nopCloser{}
	}
	if options.Interval <= 0 {
		options.Interval = time.Second
	}
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:         options.Prefix,
		Tags:           options.Tags,
		CachedReporter: options.Reporter,
		Separator:      options.Separator,
	}, options.Interval)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
