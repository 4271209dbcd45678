// Package kafka publishes completion events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Config selects the brokers and default topic.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a kafka-go writer. Messages are keyed by job id so one
// job's events land on one partition.
type Publisher struct {
	writer       messageWriter
	defaultTopic string
	now          func() time.Time
}

// New creates a Publisher for cfg.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: false,
	}, cfg.Topic), nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter, defaultTopic string) *Publisher {
	return &Publisher{
		writer:       writer,
		defaultTopic: defaultTopic,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Publish writes payload as JSON and returns "<topic>/<key>".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("kafka topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := messageKey(payload)
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write to %s: %w", topic, err)
	}
	return strings.Join([]string{topic, key}, "/"), nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func messageKey(payload any) string {
	switch ev := payload.(type) {
	case crawler.CompletionEvent:
		return ev.JobID
	case *crawler.CompletionEvent:
		return ev.JobID
	default:
		return ""
	}
}
