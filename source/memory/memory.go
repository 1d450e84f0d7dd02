// Package memory is a stream fed from code, used by tests and the notebook lessons.
package memory

import (
	"strconv"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

const partition = "0"

// Stream is an append-only list of rows. Every query reading it sees all rows added.
type Stream struct {
	id     int64
	schema types.Schema

	mutex sync.RWMutex
	rows  []types.Row
}

var (
	ids   int64
	idsMu sync.Mutex
)

func NewStream(schema types.Schema) *Stream {
	idsMu.Lock()
	defer idsMu.Unlock()
	ids++
	return &Stream{id: ids, schema: schema}
}

// NewStreamOf creates a stream whose schema is inferred from T.
func NewStreamOf[T any]() (*TypedStream[T], error) {
	schema, err := types.Infer[T]()
	if err != nil {
		return nil, err
	}
	return &TypedStream[T]{Stream: NewStream(schema)}, nil
}

// AddData appends rows, normalizing values to the stream schema, and returns the
// offset that covers them.
func (s *Stream) AddData(rows ...types.Row) (source.Offset, error) {
	normalized := make([]types.Row, len(rows))
	for i, row := range rows {
		if len(row) != s.schema.Len() {
			return nil, errors.Errorf("row %s has %d values, the stream schema has %d", row, len(row), s.schema.Len())
		}
		out := make(types.Row, len(row))
		for j, v := range row {
			n, err := types.Normalize(v, s.schema.Fields[j].Type)
			if err != nil {
				return nil, errors.WithMessagef(err, "column %s", s.schema.Fields[j].Name)
			}
			out[j] = n
		}
		normalized[i] = out
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rows = append(s.rows, normalized...)
	return source.Offset{partition: int64(len(s.rows))}, nil
}

func (s *Stream) Schema() types.Schema { return s.schema }

// Factory hands every query a reader over the shared rows.
func (s *Stream) Factory() source.Factory {
	return func() (source.Source, error) { return &reader{stream: s}, nil }
}

func (s *Stream) String() string {
	return "MemoryStream[" + strconv.FormatInt(s.id, 10) + "]"
}

type TypedStream[T any] struct {
	*Stream
}

func (s *TypedStream[T]) Add(values ...T) (source.Offset, error) {
	rows, _, err := types.FromStructs(values)
	if err != nil {
		return nil, err
	}
	return s.AddData(rows...)
}

type reader struct {
	stream *Stream
}

func (r *reader) Schema() types.Schema { return r.stream.schema }

func (r *reader) Open(source.Context) error { return nil }

func (r *reader) LatestOffset() (source.Offset, error) {
	r.stream.mutex.RLock()
	defer r.stream.mutex.RUnlock()
	if len(r.stream.rows) == 0 {
		return nil, nil
	}
	return source.Offset{partition: int64(len(r.stream.rows))}, nil
}

func (r *reader) GetBatch(start, end source.Offset) ([]types.Row, error) {
	r.stream.mutex.RLock()
	defer r.stream.mutex.RUnlock()
	from, to := start[partition], end[partition]
	if from > to || to > int64(len(r.stream.rows)) {
		return nil, errors.WithMessagef(source.ErrOffsetNotFound, "rows (%d, %d]", from, to)
	}
	batch := make([]types.Row, 0, to-from)
	for _, row := range r.stream.rows[from:to] {
		batch = append(batch, row.Copy())
	}
	return batch, nil
}

func (r *reader) Commit(source.Offset) error { return nil }

func (r *reader) Close() error { return nil }

func (r *reader) String() string { return r.stream.String() }
