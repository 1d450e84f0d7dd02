// Package kafka reads records of subscribed topics with a sarama consumer. Offsets are
// tracked per topic partition by the query, not committed to a consumer group.
package kafka

import (
	"strconv"
	"strings"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

func Schema() types.Schema {
	return types.NewSchema(
		types.NewField("key", types.StringType),
		types.NewField("value", types.StringType),
		types.Field{Name: "topic", Type: types.StringType},
		types.Field{Name: "partition", Type: types.LongType},
		types.Field{Name: "offset", Type: types.LongType},
		types.Field{Name: "timestamp", Type: types.TimestampType},
	)
}

type Options struct {
	Brokers []string
	Topics  []string
	// Earliest starts new partitions at the oldest retained record instead of the newest.
	Earliest     bool
	SaramaConfig *sarama.Config
	// Consumer, when set, is used instead of dialing Brokers. The caller keeps ownership.
	Consumer sarama.Consumer
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Provide reads kafka.bootstrap.servers, subscribe, startingOffsets and kafka.client.id.
func Provide(opts options.Options, schema *types.Schema) (types.Schema, source.Factory, error) {
	if schema != nil {
		return types.Schema{}, nil, errors.New("the kafka source has a fixed schema and does not support a user-specified one")
	}
	servers, err := opts.Required("kafka.bootstrap.servers")
	if err != nil {
		return types.Schema{}, nil, err
	}
	topics, err := opts.Required("subscribe")
	if err != nil {
		return types.Schema{}, nil, err
	}
	o := Options{Brokers: splitList(servers), Topics: splitList(topics), SaramaConfig: sarama.NewConfig()}
	switch starting := strings.ToLower(opts.String("startingOffsets", "latest")); starting {
	case "earliest":
		o.Earliest = true
	case "latest":
	default:
		return types.Schema{}, nil, errors.Errorf("option startingOffsets must be earliest or latest, got %q", starting)
	}
	if clientID, ok := opts.Get("kafka.client.id"); ok {
		o.SaramaConfig.ClientID = clientID
	}
	o.SaramaConfig.Consumer.Return.Errors = true
	return Schema(), func() (source.Source, error) { return New(o), nil }, nil
}

type topicAndPartition struct {
	Topic     string
	Partition int32
}

func (tp topicAndPartition) String() string {
	return tp.Topic + "-" + strconv.Itoa(int(tp.Partition))
}

func parseTopicAndPartition(key string) (topicAndPartition, error) {
	dash := strings.LastIndex(key, "-")
	if dash <= 0 {
		return topicAndPartition{}, errors.Errorf("invalid topic partition %q", key)
	}
	p, err := strconv.ParseInt(key[dash+1:], 10, 32)
	if err != nil {
		return topicAndPartition{}, errors.Errorf("invalid topic partition %q", key)
	}
	return topicAndPartition{Topic: key[:dash], Partition: int32(p)}, nil
}

type kafkaSource struct {
	options  Options
	logger   log.Logger
	consumer sarama.Consumer
	owned    bool
	// resume holds the next offset to read per partition, from the checkpoint
	resume source.Offset

	partitionConsumers []sarama.PartitionConsumer
	done               []chan error

	mutex sync.Mutex
	// buffered messages per partition, ordered by offset
	buffered map[topicAndPartition][]*sarama.ConsumerMessage
	// next offset after the last received message
	offsetMap map[topicAndPartition]int64
}

func New(options Options) source.Source {
	return &kafkaSource{
		options:   options,
		buffered:  map[topicAndPartition][]*sarama.ConsumerMessage{},
		offsetMap: map[topicAndPartition]int64{},
	}
}

func (s *kafkaSource) Schema() types.Schema { return Schema() }

func (s *kafkaSource) Resume(from source.Offset) error {
	s.resume = from.Clone()
	return nil
}

func (s *kafkaSource) Open(ctx source.Context) (err error) {
	s.logger = ctx.Logger().Named("kafka").With("topics", s.options.Topics)
	if s.consumer = s.options.Consumer; s.consumer == nil {
		if s.consumer, err = sarama.NewConsumer(s.options.Brokers, s.options.SaramaConfig); err != nil {
			return errors.WithMessagef(err, "failed to connect to kafka %s", s.options.Brokers)
		}
		s.owned = true
	}
	for _, topic := range s.options.Topics {
		partitions, err := s.consumer.Partitions(topic)
		if err != nil {
			return errors.WithMessagef(err, "failed to list partitions of %s", topic)
		}
		for _, partition := range partitions {
			tp := topicAndPartition{Topic: topic, Partition: partition}
			start := sarama.OffsetNewest
			if s.options.Earliest {
				start = sarama.OffsetOldest
			}
			if next, ok := s.resume[tp.String()]; ok {
				start = next
				s.offsetMap[tp] = next
			}
			pc, err := s.consumer.ConsumePartition(topic, partition, start)
			if err != nil {
				return errors.WithMessagef(err, "failed to consume %s", tp)
			}
			s.partitionConsumers = append(s.partitionConsumers, pc)
			s.done = append(s.done, safe.Go(func() error { return s.receive(tp, pc) }))
		}
	}
	s.logger.Infow("consuming partitions.", "partitions", len(s.partitionConsumers))
	return nil
}

func (s *kafkaSource) receive(tp topicAndPartition, pc sarama.PartitionConsumer) error {
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil || errs != nil {
		select {
		case message, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			s.mutex.Lock()
			s.buffered[tp] = append(s.buffered[tp], message)
			s.offsetMap[tp] = message.Offset + 1
			s.mutex.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warnw("failed to consume partition.", "partition", tp, "err", err)
		}
	}
	return nil
}

func (s *kafkaSource) LatestOffset() (source.Offset, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.offsetMap) == 0 {
		return nil, nil
	}
	offset := source.Offset{}
	for tp, next := range s.offsetMap {
		offset[tp.String()] = next
	}
	return offset, nil
}

func (s *kafkaSource) GetBatch(start, end source.Offset) ([]types.Row, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var rows []types.Row
	for key, to := range end {
		tp, err := parseTopicAndPartition(key)
		if err != nil {
			return nil, err
		}
		from, ok := start[key]
		messages := s.buffered[tp]
		if ok && len(messages) > 0 && messages[0].Offset > from {
			return nil, errors.WithMessagef(source.ErrOffsetNotFound, "%s offset %d was already discarded", key, from)
		}
		for _, m := range messages {
			if (ok && m.Offset < from) || m.Offset >= to {
				continue
			}
			rows = append(rows, types.Row{
				nullableString(m.Key), nullableString(m.Value),
				m.Topic, int64(m.Partition), m.Offset, m.Timestamp.UTC(),
			})
		}
	}
	return rows, nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Commit discards buffered records below end.
func (s *kafkaSource) Commit(end source.Offset) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for key, next := range end {
		tp, err := parseTopicAndPartition(key)
		if err != nil {
			return err
		}
		messages := s.buffered[tp]
		i := 0
		for i < len(messages) && messages[i].Offset < next {
			i++
		}
		s.buffered[tp] = messages[i:]
	}
	return nil
}

func (s *kafkaSource) Close() error {
	var err error
	for _, pc := range s.partitionConsumers {
		pc.AsyncClose()
	}
	for _, done := range s.done {
		err = multierr.Append(err, <-done)
	}
	if s.owned {
		err = multierr.Append(err, s.consumer.Close())
	}
	return err
}

func (s *kafkaSource) String() string {
	return "KafkaV2[Subscribe[" + strings.Join(s.options.Topics, ",") + "]]"
}
