// Package rate generates rows at a fixed rate, for load testing and demos.
package rate

import (
	"strconv"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

const partition = "value"

func Schema() types.Schema {
	return types.NewSchema(
		types.Field{Name: "timestamp", Type: types.TimestampType},
		types.Field{Name: "value", Type: types.LongType},
	)
}

// Provide reads the rowsPerSecond option.
func Provide(opts options.Options, schema *types.Schema) (types.Schema, source.Factory, error) {
	if schema != nil {
		return types.Schema{}, nil, errors.New("the rate source does not support a user-specified schema")
	}
	rowsPerSecond, err := opts.Int("rowsPerSecond", 1)
	if err != nil {
		return types.Schema{}, nil, err
	}
	if rowsPerSecond <= 0 {
		return types.Schema{}, nil, errors.Errorf("option rowsPerSecond must be positive, got %d", rowsPerSecond)
	}
	return Schema(), func() (source.Source, error) { return New(rowsPerSecond, time.Now), nil }, nil
}

type rateSource struct {
	rowsPerSecond int64
	now           func() time.Time

	mutex sync.Mutex
	start time.Time
}

func New(rowsPerSecond int64, now func() time.Time) source.Source {
	return &rateSource{rowsPerSecond: rowsPerSecond, now: now}
}

func (r *rateSource) Schema() types.Schema { return Schema() }

func (r *rateSource) Open(source.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.start.IsZero() {
		r.start = r.now().Truncate(time.Millisecond)
	}
	return nil
}

func (r *rateSource) LatestOffset() (source.Offset, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	elapsed := r.now().Sub(r.start)
	n := int64(elapsed) * r.rowsPerSecond / int64(time.Second)
	if n <= 0 {
		return nil, nil
	}
	return source.Offset{partition: n}, nil
}

func (r *rateSource) GetBatch(start, end source.Offset) ([]types.Row, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	from, to := start[partition], end[partition]
	rows := make([]types.Row, 0, to-from)
	for value := from; value < to; value++ {
		ts := r.start.Add(time.Duration(value * int64(time.Second) / r.rowsPerSecond)).UTC()
		rows = append(rows, types.Row{ts, value})
	}
	return rows, nil
}

func (r *rateSource) Commit(source.Offset) error { return nil }

// Snapshot keeps the start time so timestamps of replayed batches don't change.
func (r *rateSource) Snapshot() ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return []byte(strconv.FormatInt(r.start.UnixMilli(), 10)), nil
}

func (r *rateSource) Restore(state []byte) error {
	ms, err := strconv.ParseInt(string(state), 10, 64)
	if err != nil {
		return errors.WithMessage(err, "invalid rate source snapshot")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.start = time.UnixMilli(ms)
	return nil
}

func (r *rateSource) Close() error { return nil }

func (r *rateSource) String() string {
	return "RateStreamSource[rowsPerSecond=" + strconv.FormatInt(r.rowsPerSecond, 10) + "]"
}
