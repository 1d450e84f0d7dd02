package memory

import (
	"testing"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = types.NewSchema(types.NewField("word", types.StringType), types.NewField("count", types.LongType))

func TestCompleteReplaces(t *testing.T) {
	table := New("counts", schema)
	require.NoError(t, table.AddBatch(&sink.Batch{ID: 0, Rows: []types.Row{{"a", int64(1)}}, Mode: plan.Complete}))
	require.NoError(t, table.AddBatch(&sink.Batch{ID: 1, Rows: []types.Row{{"a", int64(2)}, {"b", int64(1)}}, Mode: plan.Complete}))
	assert.Equal(t, []types.Row{{"a", int64(2)}, {"b", int64(1)}}, table.Rows())
}

func TestAppendAndReplay(t *testing.T) {
	table := New("words", schema)
	require.NoError(t, table.AddBatch(&sink.Batch{ID: 0, Rows: []types.Row{{"a", int64(1)}}, Mode: plan.Append}))
	require.NoError(t, table.AddBatch(&sink.Batch{ID: 1, Rows: []types.Row{{"b", int64(1)}}, Mode: plan.Update}))
	require.NoError(t, table.AddBatch(&sink.Batch{ID: 1, Rows: []types.Row{{"b", int64(1)}}, Mode: plan.Update}))
	assert.Equal(t, []types.Row{{"a", int64(1)}, {"b", int64(1)}}, table.Rows())
}

func TestProvide(t *testing.T) {
	_, err := Provide(options.Options{}, schema, plan.Append)
	assert.Error(t, err)
	s, err := Provide(options.Options{"queryName": "t"}, schema, plan.Append)
	require.NoError(t, err)
	assert.Equal(t, "MemorySink[t]", s.String())
}
