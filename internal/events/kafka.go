// Package events publishes relay log entries to Kafka so failures can be
// consumed by external alerting and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	// Brokers is a comma separated list of host:port pairs
	Brokers string
	Topic   string

	// WriteTimeout bounds a single publish
	WriteTimeout time.Duration
}

// KafkaPublisher writes every LogEntry to a topic, keyed by route id.
//
// It implements repository.LogSink.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaPublisher creates an asynchronous producer for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().
					Err(err).
					Str("component", "events").
					Int("messages", len(messages)).
					Msg("Kafka delivery failed")
			}
		},
	}

	log.Info().
		Str("component", "events").
		Strs("brokers", brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka log publisher initialized")

	return newPublisher(writer, cfg.Topic, cfg.WriteTimeout), nil
}

func newPublisher(w messageWriter, topic string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: w, topic: topic, timeout: timeout}
}

// Publish encodes entry as JSON and hands it to the producer.
func (p *KafkaPublisher) Publish(ctx context.Context, entry repository.LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(entry.RouteID),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(fmt.Sprintf("%d", entry.Status))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s failed: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (p *KafkaPublisher) Close() error {
	log.Info().
		Str("component", "events").
		Msg("Closing Kafka log publisher")
	return p.writer.Close()
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
