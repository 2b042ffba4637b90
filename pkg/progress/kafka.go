package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/metrics"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaSink produces events as JSON messages keyed by run id
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewKafkaSink connects an async producer to the configured brokers
func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka progress sink needs brokers and a topic")
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer")
	}
	logger.Info("connected to Kafka", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return NewKafkaSinkFromProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaSinkFromProducer wraps an existing producer. Return.Errors must
// be enabled on it.
func NewKafkaSinkFromProducer(producer sarama.AsyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka_progress")),
	}
	s.wg.Add(1)
	go s.handleErrors()
	return s
}

func buildSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Return.Successes = false
	c.Producer.Return.Errors = true
	c.Producer.Compression = sarama.CompressionSnappy
	if cfg.ClientID != "" {
		c.ClientID = cfg.ClientID
	}
	return c
}

func (s *KafkaSink) handleErrors() {
	defer s.wg.Done()
	for err := range s.producer.Errors() {
		metrics.ProgressDropped.WithLabelValues("kafka").Inc()
		s.logger.Warn("failed to produce progress event",
			zap.String("topic", err.Msg.Topic),
			zap.Error(err.Err))
	}
}

// Publish implements Sink. Events are dropped when the producer input is
// full.
func (s *KafkaSink) Publish(_ context.Context, ev Event) {
	value, err := jsonpool.Marshal(ev)
	if err != nil {
		s.logger.Warn("failed to encode progress event", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.RunID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("percentage"), Value: []byte(fmt.Sprint(ev.Percentage))},
		},
	}
	select {
	case s.producer.Input() <- msg:
	default:
		metrics.ProgressDropped.WithLabelValues("kafka").Inc()
	}
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() error {
	s.producer.AsyncClose()
	s.wg.Wait()
	return nil
}
