// Package memory keeps the result of a query in a named in-memory table.
package memory

import (
	"sync"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
)

// Table is the sink and the readable result table. Complete batches replace the
// content, append and update batches are appended.
type Table struct {
	name   string
	schema types.Schema

	mutex     sync.RWMutex
	rows      []types.Row
	lastBatch int64
}

func New(name string, schema types.Schema) *Table {
	return &Table{name: name, schema: schema, lastBatch: -1}
}

// Provide builds a table named after the "queryName" option.
func Provide(opts options.Options, schema types.Schema, _ plan.OutputMode) (sink.Sink, error) {
	name, err := opts.Required("queryName")
	if err != nil {
		return nil, err
	}
	return New(name, schema), nil
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Schema() types.Schema { return t.schema }

func (t *Table) AddBatch(batch *sink.Batch) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if batch.ID <= t.lastBatch {
		return nil
	}
	rows := make([]types.Row, len(batch.Rows))
	for i, row := range batch.Rows {
		rows[i] = row.Copy()
	}
	if batch.Mode == plan.Complete {
		t.rows = rows
	} else {
		t.rows = append(t.rows, rows...)
	}
	t.lastBatch = batch.ID
	return nil
}

// Rows returns a copy of the current content.
func (t *Table) Rows() []types.Row {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	out := make([]types.Row, len(t.rows))
	copy(out, t.rows)
	return out
}

func (t *Table) Close() error   { return nil }
func (t *Table) String() string { return "MemorySink[" + t.name + "]" }
