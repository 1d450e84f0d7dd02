// Package foreach hands every batch to a user function.
package foreach

import (
	"github.com/RuiFG/streaming/streaming-table/sink"
)

type BatchFn func(batch *sink.Batch) error

type foreachBatch struct {
	fn BatchFn
}

func New(fn BatchFn) sink.Sink {
	return &foreachBatch{fn: fn}
}

func (f *foreachBatch) AddBatch(batch *sink.Batch) error { return f.fn(batch) }
func (f *foreachBatch) Close() error                     { return nil }
func (f *foreachBatch) String() string                   { return "ForeachBatchSink" }
