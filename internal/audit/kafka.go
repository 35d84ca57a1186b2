package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// NewSyncProducer builds a sarama producer tuned for the audit relay:
// idempotent, full-ISR acks, bounded retries.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create audit producer: %w", err)
	}
	return producer, nil
}

// KafkaSink publishes records to a Kafka topic, keyed by resource id so one
// identity's records land on one partition in order. Send failures are
// logged, never propagated: the durable trail already lives in the store.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (s *KafkaSink) Emit(ctx context.Context, rec Record) {
	if s == nil || s.producer == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("audit record marshal failed", zap.String("event", rec.Event), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(rec.ResourceID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.Warn("audit record publish failed",
			zap.String("event", rec.Event),
			zap.String("resource_id", rec.ResourceID),
			zap.Error(err),
		)
	}
}

// Close shuts the underlying producer down.
func (s *KafkaSink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// LogSink writes records through a zap logger, one entry per record.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, rec Record) {
	s.logger.Info("audit",
		zap.Time("at", rec.At),
		zap.String("actor_id", rec.ActorID),
		zap.String("action", string(rec.Action)),
		zap.String("event", rec.Event),
		zap.String("resource_type", rec.ResourceType),
		zap.String("resource_id", rec.ResourceID),
		zap.String("ip", rec.Origin.IP),
		zap.String("request_id", rec.Origin.RequestID),
	)
}
