package foreach

import (
	"testing"

	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestForeachBatch(t *testing.T) {
	var ids []int64
	s := New(func(batch *sink.Batch) error {
		ids = append(ids, batch.ID)
		if batch.ID == 1 {
			return errors.New("rejected")
		}
		return nil
	})
	assert.NoError(t, s.AddBatch(&sink.Batch{ID: 0}))
	assert.EqualError(t, s.AddBatch(&sink.Batch{ID: 1}), "rejected")
	assert.Equal(t, []int64{0, 1}, ids)
	assert.Equal(t, "ForeachBatchSink", s.String())
	assert.NoError(t, s.Close())
}
