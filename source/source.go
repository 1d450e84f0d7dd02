// Package source holds the streaming sources a query polls each trigger.
//
// A source exposes monotonically growing offsets. The engine asks for the latest
// offset, logs it, reads the rows between the previous and the new offset, and commits
// once the batch is durable in the sink.
package source

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

var (
	ErrClosed         = errors.New("source closed")
	ErrOffsetNotFound = errors.New("offset no longer available")
)

// Offset is a position per partition.
type Offset map[string]int64

func (o Offset) Clone() Offset {
	if o == nil {
		return nil
	}
	c := make(Offset, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

func (o Offset) Equal(other Offset) bool {
	if len(o) != len(other) {
		return false
	}
	for k, v := range o {
		if w, ok := other[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (o Offset) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + ":" + strconv.FormatInt(o[k], 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Context is handed to a source when its query starts.
type Context interface {
	context.Context
	Logger() log.Logger
}

type sourceContext struct {
	context.Context
	logger log.Logger
}

func (c *sourceContext) Logger() log.Logger {
	return c.logger
}

func NewContext(ctx context.Context, logger log.Logger) Context {
	return &sourceContext{Context: ctx, logger: logger}
}

type Source interface {
	Schema() types.Schema
	Open(ctx Context) error
	// LatestOffset returns nil when the source has never seen data.
	LatestOffset() (Offset, error)
	// GetBatch returns the rows in (start, end]; start is nil for the first batch.
	GetBatch(start, end Offset) ([]types.Row, error)
	// Commit tells the source everything up to end is processed and can be discarded.
	Commit(end Offset) error
	Close() error
	String() string
}

// Snapshotter is implemented by sources that keep metadata needed to replay batches
// after a restart, such as the file source's admitted-file log.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(state []byte) error
}

// Resumable sources are told, before Open, the offset the checkpoint resumes from.
type Resumable interface {
	Resume(from Offset) error
}

// Factory creates a fresh source instance for one query run.
type Factory func() (Source, error)

// Provider resolves reader options and an optional user schema into the output schema
// of a source and its factory.
type Provider func(opts options.Options, schema *types.Schema) (types.Schema, Factory, error)

// Replayable reports whether a source can serve a logged batch again after restart.
type Replayable interface {
	Replayable() bool
}

// IsReplayable treats sources as replayable unless they say otherwise.
func IsReplayable(s Source) bool {
	if r, ok := s.(Replayable); ok {
		return r.Replayable()
	}
	return true
}
