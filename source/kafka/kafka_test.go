package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(offset int64, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Key:       []byte(key),
		Value:     []byte(value),
		Offset:    offset,
		Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSource(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"tx": {0}})
	pc := consumer.ExpectConsumePartition("tx", 0, sarama.OffsetOldest)
	pc.YieldMessage(message(0, "u1", "10.5"))
	pc.YieldMessage(message(1, "u2", "3"))

	s := New(Options{Topics: []string{"tx"}, Earliest: true, Consumer: consumer})
	require.NoError(t, s.Open(source.NewContext(context.Background(), log.Nop())))

	var offset source.Offset
	require.Eventually(t, func() bool {
		var err error
		offset, err = s.LatestOffset()
		return err == nil && offset.Equal(source.Offset{"tx-0": 2})
	}, 5*time.Second, 10*time.Millisecond)

	rows, err := s.GetBatch(nil, offset)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u2", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "tx", rows[1][2])
	assert.Equal(t, int64(0), rows[1][3])
	assert.Equal(t, int64(1), rows[1][4])

	require.NoError(t, s.Commit(source.Offset{"tx-0": 1}))
	rows, err = s.GetBatch(source.Offset{"tx-0": 1}, offset)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	_, err = s.GetBatch(source.Offset{"tx-0": 0}, offset)
	assert.ErrorIs(t, err, source.ErrOffsetNotFound)

	require.NoError(t, s.Close())
}

func TestKafkaSourceResumes(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"tx": {0}})
	pc := consumer.ExpectConsumePartition("tx", 0, 2)
	pc.YieldMessage(message(2, "u3", "7"))

	s := New(Options{Topics: []string{"tx"}, Consumer: consumer})
	require.NoError(t, s.(source.Resumable).Resume(source.Offset{"tx-0": 2}))
	require.NoError(t, s.Open(source.NewContext(context.Background(), log.Nop())))
	var (
		offset source.Offset
		err    error
	)
	require.Eventually(t, func() bool {
		offset, err = s.LatestOffset()
		return err == nil && offset.Equal(source.Offset{"tx-0": 3})
	}, 5*time.Second, 10*time.Millisecond)
	rows, err := s.GetBatch(source.Offset{"tx-0": 2}, offset)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0][1])
	require.NoError(t, s.Close())
}

func TestProvide(t *testing.T) {
	schema, _, err := Provide(options.Options{"kafka.bootstrap.servers": "a:9092, b:9092", "subscribe": "tx", "startingOffsets": "earliest"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "value", "topic", "partition", "offset", "timestamp"}, schema.Names())
	_, _, err = Provide(options.Options{"subscribe": "tx"}, nil)
	assert.Error(t, err)
	_, _, err = Provide(options.Options{"kafka.bootstrap.servers": "a:9092", "subscribe": "tx", "startingOffsets": "tomorrow"}, nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, splitList(" a,,b "))
}
