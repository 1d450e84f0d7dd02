// Package kafka produces every row of a batch as a kafka record. Delivery is at least
// once: a replayed batch is produced again.
package kafka

import (
	"strings"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type Options struct {
	Brokers []string
	// Topic is used for rows without a topic column or with a null topic.
	Topic        string
	SaramaConfig *sarama.Config
	// Producer, when set, is used instead of dialing Brokers. The caller keeps ownership.
	Producer sarama.SyncProducer
}

// Provide reads kafka.bootstrap.servers and topic.
func Provide(opts options.Options, schema types.Schema, _ plan.OutputMode) (sink.Sink, error) {
	servers, err := opts.Required("kafka.bootstrap.servers")
	if err != nil {
		return nil, err
	}
	o := Options{Topic: opts.String("topic", ""), SaramaConfig: sarama.NewConfig()}
	for _, server := range strings.Split(servers, ",") {
		if server = strings.TrimSpace(server); server != "" {
			o.Brokers = append(o.Brokers, server)
		}
	}
	o.SaramaConfig.Producer.Return.Successes = true
	o.SaramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	if clientID, ok := opts.Get("kafka.client.id"); ok {
		o.SaramaConfig.ClientID = clientID
	}
	return New(o, schema)
}

type kafkaSink struct {
	options  Options
	producer sarama.SyncProducer
	owned    bool
	key      int
	value    int
	topic    int
}

// New checks schema has a value column and optional key and topic columns.
func New(options Options, schema types.Schema) (sink.Sink, error) {
	s := &kafkaSink{options: options, key: -1, topic: -1}
	var err error
	if s.value, err = schema.Index("value"); err != nil {
		return nil, errors.WithMessage(err, "kafka sink requires a value column")
	}
	if schema.Has("key") {
		s.key, _ = schema.Index("key")
	}
	if schema.Has("topic") {
		s.topic, _ = schema.Index("topic")
	} else if options.Topic == "" {
		return nil, errors.New("kafka sink requires the topic option or a topic column")
	}
	s.producer = options.Producer
	if s.producer == nil {
		if s.producer, err = sarama.NewSyncProducer(options.Brokers, options.SaramaConfig); err != nil {
			return nil, errors.WithMessage(err, "failed to create kafka producer")
		}
		s.owned = true
	}
	return s, nil
}

func encode(v any) sarama.Encoder {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		return sarama.ByteEncoder(b)
	}
	return sarama.StringEncoder(types.Format(v))
}

func (s *kafkaSink) AddBatch(batch *sink.Batch) error {
	if len(batch.Rows) == 0 {
		return nil
	}
	messages := make([]*sarama.ProducerMessage, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		m := &sarama.ProducerMessage{Topic: s.options.Topic, Value: encode(row[s.value])}
		if s.key >= 0 {
			m.Key = encode(row[s.key])
		}
		if s.topic >= 0 && row[s.topic] != nil {
			m.Topic = types.Format(row[s.topic])
		}
		if m.Topic == "" {
			return errors.Errorf("row %s has no topic", row)
		}
		messages = append(messages, m)
	}
	return errors.WithMessagef(s.producer.SendMessages(messages), "failed to produce batch %d", batch.ID)
}

func (s *kafkaSink) Close() error {
	if s.owned {
		return s.producer.Close()
	}
	return nil
}

func (s *kafkaSink) String() string {
	return "KafkaSink[" + strings.Join(s.options.Brokers, ",") + "]"
}
