package memory

import (
	"testing"

	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type word struct {
	Word  string `table:"word"`
	Count int    `table:"count"`
}

func TestStream(t *testing.T) {
	s, err := NewStreamOf[word]()
	require.NoError(t, err)
	assert.Equal(t, "word STRING, count LONG NOT NULL", s.Schema().DDL())

	r, err := s.Factory()()
	require.NoError(t, err)
	offset, err := r.LatestOffset()
	require.NoError(t, err)
	assert.Nil(t, offset)

	first, err := s.Add(word{"spark", 1}, word{"flink", 2})
	require.NoError(t, err)
	second, err := s.AddData(types.Row{"beam", 3})
	require.NoError(t, err)
	assert.Equal(t, source.Offset{"0": 3}, second)

	latest, err := r.LatestOffset()
	require.NoError(t, err)
	assert.Equal(t, second, latest)
	rows, err := r.GetBatch(first, latest)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"beam", int64(3)}}, rows)

	_, err = s.AddData(types.Row{"too", 1, "many"})
	assert.Error(t, err)
	_, err = r.GetBatch(nil, source.Offset{"0": 10})
	assert.ErrorIs(t, err, source.ErrOffsetNotFound)
}
