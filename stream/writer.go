package stream

import (
	"path/filepath"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/common/status"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/sink/foreach"
	sinkmemory "github.com/RuiFG/streaming/streaming-table/sink/memory"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

// ForeachBatchFn receives the output of every batch as a static DataFrame.
type ForeachBatchFn func(batch *DataFrame, batchID int64) error

// DataStreamWriter configures and starts a streaming query over a DataFrame.
type DataStreamWriter struct {
	df        *DataFrame
	format    string
	mode      plan.OutputMode
	trigger   execution.Trigger
	queryName string
	opts      options.Options
	foreach   ForeachBatchFn
	err       error
}

// Format picks the sink: console, memory, csv, json, kafka, noop or a registered one.
func (w *DataStreamWriter) Format(format string) *DataStreamWriter {
	w.format = strings.ToLower(format)
	return w
}

// OutputMode is "append", "complete" or "update".
func (w *DataStreamWriter) OutputMode(mode string) *DataStreamWriter {
	m, err := plan.ParseOutputMode(mode)
	if err != nil {
		w.err = err
		return w
	}
	w.mode = m
	return w
}

func (w *DataStreamWriter) Option(key, value string) *DataStreamWriter {
	w.opts[key] = value
	return w
}

func (w *DataStreamWriter) Options(opts map[string]string) *DataStreamWriter {
	for k, v := range opts {
		w.opts[k] = v
	}
	return w
}

// QueryName names the query; the memory sink registers its table under this name.
func (w *DataStreamWriter) QueryName(name string) *DataStreamWriter {
	w.queryName = name
	return w
}

func (w *DataStreamWriter) Trigger(trigger execution.Trigger) *DataStreamWriter {
	w.trigger = trigger
	return w
}

// ForeachBatch replaces the sink with fn.
func (w *DataStreamWriter) ForeachBatch(fn ForeachBatchFn) *DataStreamWriter {
	w.foreach = fn
	return w
}

func (w *DataStreamWriter) createSink() (sink.Sink, error) {
	session := w.df.session
	if w.foreach != nil {
		return foreach.New(func(batch *sink.Batch) error {
			return w.foreach(session.newDataFrame(plan.NewLocalRelation("batch", batch.Schema, batch.Rows)), batch.ID)
		}), nil
	}
	provider, err := session.sinkProvider(w.format)
	if err != nil {
		return nil, err
	}
	s, err := provider(w.opts, w.df.Schema(), w.mode)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s sink", w.format)
	}
	return s, nil
}

// Start starts the query; path, when given, becomes the "path" option of file sinks.
func (w *DataStreamWriter) Start(path ...string) (*execution.StreamingQuery, error) {
	session := w.df.session
	if w.err != nil {
		return nil, w.err
	}
	if !status.Load(&session.status).Running() {
		return nil, ErrSessionStopped
	}
	if !w.df.IsStreaming() {
		return nil, plan.ErrNotStreaming
	}
	if len(path) > 0 {
		w.opts["path"] = path[0]
	}
	if w.queryName != "" {
		w.opts["queryName"] = w.queryName
	}
	options := execution.DefaultQueryOptions
	options.Name = w.queryName
	options.Mode = w.mode
	options.Trigger = w.trigger
	options.Logger = session.options.Logger
	options.Scope = session.scope
	options.Listener = session.streams
	options.CheckpointLocation = w.opts.String("checkpointLocation", "")
	if options.CheckpointLocation == "" && session.options.CheckpointRoot != "" && w.queryName != "" {
		options.CheckpointLocation = filepath.Join(session.options.CheckpointRoot, w.queryName)
	}
	retain, err := w.opts.Int("minBatchesToRetain", int64(options.MinBatchesToRetain))
	if err != nil {
		return nil, err
	}
	options.MinBatchesToRetain = int(retain)

	if err = session.streams.reserve(w.queryName); err != nil {
		return nil, err
	}
	defer session.streams.release(w.queryName)
	s, err := w.createSink()
	if err != nil {
		return nil, err
	}
	query, err := execution.Start(w.df.plan, s, options)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if table, ok := s.(*sinkmemory.Table); ok {
		session.registerView(table.Name(), session.newDataFrame(&plan.LocalRelation{
			Name:   table.Name(),
			Output: table.Schema(),
			Rows:   func() ([]types.Row, error) { return table.Rows(), nil },
		}))
	}
	return query, nil
}
