// Package events publishes purchase lifecycle events to Kafka for the
// audit/analytics consumers downstream (admin dashboard, reporting).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

// LifecycleEvent is emitted once per applied purchase transition. Consumers
// key their state on (purchase_id, status); duplicate deliveries are theirs
// to tolerate.
type LifecycleEvent struct {
	Type        string    `json:"type"`
	PurchaseID  string    `json:"purchase_id"`
	PaymentID   string    `json:"payment_id"`
	Provider    string    `json:"provider"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Writer is the subset of the kafka writer we need. Makes the producer
// testable without a broker.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Producer writes lifecycle events to one topic, keyed by purchase id so
// all events for a purchase land on the same partition, in order.
type Producer struct {
	writer Writer
}

// NewProducer creates a Producer that writes to the given broker/topic.
func NewProducer(brokerURL, topic string) *Producer {
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &Producer{writer: w}
}

// NewProducerWithWriter allows injecting a test writer.
func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{writer: w}
}

// Publish writes one event, keyed by its purchase id.
func (p *Producer) Publish(ctx context.Context, ev LifecycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	msg := skafka.Message{Key: []byte(ev.PurchaseID), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("[Events] kafka write for purchase %s failed: %v", ev.PurchaseID, err)
		return err
	}
	return nil
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
