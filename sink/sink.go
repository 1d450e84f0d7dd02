// Package sink holds the destinations a streaming query writes its result to.
package sink

import (
	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

var ErrUnsupportedMode = errors.New("output mode not supported by sink")

// Batch is the result of one micro-batch.
type Batch struct {
	ID     int64
	Schema types.Schema
	Rows   []types.Row
	Mode   plan.OutputMode
}

// Sink receives the batches of one query. AddBatch may be called again with the id of a
// batch that was already added when a query restarts; sinks that can tell should skip it.
type Sink interface {
	AddBatch(batch *Batch) error
	Close() error
	String() string
}

// Provider creates the sink of a query with the given options, output schema and mode.
type Provider func(opts options.Options, schema types.Schema, mode plan.OutputMode) (Sink, error)

// RequireMode fails unless mode is one of supported.
func RequireMode(name string, mode plan.OutputMode, supported ...plan.OutputMode) error {
	for _, m := range supported {
		if m == mode {
			return nil
		}
	}
	return errors.WithMessagef(ErrUnsupportedMode, "%s does not support %s output mode", name, mode)
}

// Noop discards every batch.
type Noop struct{}

func (Noop) AddBatch(*Batch) error { return nil }
func (Noop) Close() error          { return nil }
func (Noop) String() string        { return "NoopSink" }

func ProvideNoop(options.Options, types.Schema, plan.OutputMode) (Sink, error) {
	return Noop{}, nil
}
