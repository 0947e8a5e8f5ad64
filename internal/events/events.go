// Package events publishes search lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// SearchCompleted is emitted once, when a record first reaches COMPLETED.
type SearchCompleted struct {
	SearchID    string    `json:"search_id"`
	Partial     bool      `json:"partial"`
	Offers      int       `json:"offers"`
	Providers   []string  `json:"providers"`
	Forced      bool      `json:"forced"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishSearchCompleted(ctx context.Context, evt SearchCompleted) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishSearchCompleted(context.Context, SearchCompleted) error { return nil }

func (Noop) Close() error { return nil }

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON, keyed by search id.
type KafkaPublisher struct {
	writer kafkaMessageWriter
}

// NewKafkaPublisher creates a publisher for topic. bootstrap is a
// comma-separated list of host:port.
func NewKafkaPublisher(bootstrap string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaPublisher) PublishSearchCompleted(ctx context.Context, evt SearchCompleted) error {
	b, err := json.Marshal(&evt)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.SearchID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("search.completed")},
		},
	})
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }

// New returns a Kafka publisher when brokers are configured, Noop otherwise.
func New(bootstrap, topic string) Publisher {
	if len(SplitBrokers(bootstrap)) == 0 {
		return Noop{}
	}
	return NewKafkaPublisher(bootstrap, topic)
}

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
