package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"cryptofeeds/config"
	"cryptofeeds/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one JSON message per quote keyed by exchange:canonical, so
// a partition sees every update of an instrument in order.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
	}
	logger.GetLogger().WithComponent("publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka sink initialized")
	return &KafkaSink{writer: w, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, quotes []Quote) error {
	msgs := make([]kafka.Message, 0, len(quotes))
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", q.Key(), err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(q.Key()), Value: data})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
