package kafka

import (
	"testing"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = types.NewSchema(types.NewField("key", types.StringType), types.NewField("value", types.LongType))

func TestProduceBatch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	var produced []string
	for i := 0; i < 2; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
			produced = append(produced, string(value))
			return nil
		})
	}
	s, err := New(Options{Topic: "counts", Producer: producer}, schema)
	require.NoError(t, err)
	require.NoError(t, s.AddBatch(&sink.Batch{ID: 0, Schema: schema, Rows: []types.Row{
		{"cat", int64(2)},
		{"dog", int64(1)},
	}, Mode: plan.Update}))
	require.NoError(t, s.Close())
	require.NoError(t, producer.Close())
	assert.Equal(t, []string{"2", "1"}, produced)
}

func TestProduceFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	s, err := New(Options{Topic: "counts", Producer: producer}, schema)
	require.NoError(t, err)
	err = s.AddBatch(&sink.Batch{ID: 4, Schema: schema, Rows: []types.Row{{"cat", int64(2)}}})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestSchemaValidation(t *testing.T) {
	_, err := New(Options{Topic: "t", Producer: mocks.NewSyncProducer(t, nil)}, types.NewSchema(types.NewField("key", types.StringType)))
	assert.Error(t, err)
	_, err = New(Options{Producer: mocks.NewSyncProducer(t, nil)}, schema)
	assert.Error(t, err)
	_, err = Provide(options.Options{"topic": "t"}, schema, plan.Append)
	assert.Error(t, err)
}
