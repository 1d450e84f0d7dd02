package console

import (
	"bytes"
	"testing"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = types.NewSchema(types.NewField("word", types.StringType), types.NewField("count", types.LongType))

func TestShowString(t *testing.T) {
	rows := []types.Row{{"cat", int64(2)}, {"dog", int64(10)}, {nil, int64(1)}}
	assert.Equal(t, ""+
		"+----+-----+\n"+
		"|word|count|\n"+
		"+----+-----+\n"+
		"| cat|    2|\n"+
		"| dog|   10|\n"+
		"|null|    1|\n"+
		"+----+-----+\n", ShowString(schema, rows, 20, 20))

	assert.Equal(t, ""+
		"+----+-----+\n"+
		"|word|count|\n"+
		"+----+-----+\n"+
		"|cat |2    |\n"+
		"+----+-----+\n"+
		"only showing top 1 row\n", ShowString(schema, rows, 1, 0))
}

func TestShowStringTruncate(t *testing.T) {
	s := types.NewSchema(types.NewField("v", types.StringType))
	out := ShowString(s, []types.Row{{"abcdefghijklmnopqrstuvwxyz"}}, 20, 20)
	assert.Contains(t, out, "|abcdefghijklmnopq...|")
	out = ShowString(s, []types.Row{{"abcdefghijklmnopqrstuvwxyz"}}, 20, 0)
	assert.Contains(t, out, "|abcdefghijklmnopqrstuvwxyz|")
}

func TestConsoleSink(t *testing.T) {
	var buffer bytes.Buffer
	s := New(Options{Writer: &buffer, NumRows: 20, Truncate: 20})
	require.NoError(t, s.AddBatch(&sink.Batch{ID: 3, Schema: schema, Rows: []types.Row{{"cat", int64(1)}}, Mode: plan.Complete}))
	assert.Equal(t, ""+
		"-------------------------------------------\n"+
		"Batch: 3\n"+
		"-------------------------------------------\n"+
		"+----+-----+\n"+
		"|word|count|\n"+
		"+----+-----+\n"+
		"| cat|    1|\n"+
		"+----+-----+\n"+
		"\n", buffer.String())
}

func TestProvide(t *testing.T) {
	s, err := Provide(options.Options{"numRows": "5", "truncate": "false"}, schema, plan.Append)
	require.NoError(t, err)
	assert.Equal(t, "ConsoleSink[numRows: 5, truncate: 0]", s.String())

	_, err = Provide(options.Options{"truncate": "wide"}, schema, plan.Append)
	assert.Error(t, err)
}

func TestProviderWritesToWriter(t *testing.T) {
	var buffer bytes.Buffer
	s, err := Provider(&buffer)(options.Options{"numRows": "1"}, schema, plan.Append)
	require.NoError(t, err)
	require.NoError(t, s.AddBatch(&sink.Batch{ID: 3, Schema: schema, Rows: []types.Row{{"dog", int64(2)}, {"cat", int64(1)}}}))
	assert.Contains(t, buffer.String(), "Batch: 3\n")
	assert.Contains(t, buffer.String(), "only showing top 1 row\n")
}
