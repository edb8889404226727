package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher is the queue surface the gateway needs. Satisfied by *Client;
// tests inject a fake.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Job is the message the bot consumer receives. It carries only the
// purchase id: the consumer re-reads purchase state so a stale job can
// never deliver an unpaid or refunded purchase.
type Job struct {
	PurchaseID  string    `json:"purchase_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Gateway publishes delivery jobs.
type Gateway struct {
	publisher Publisher
	queue     string
}

func NewGateway(p Publisher, queue string) *Gateway {
	return &Gateway{publisher: p, queue: queue}
}

// Deliver enqueues one delivery job for the purchase.
func (g *Gateway) Deliver(ctx context.Context, purchaseID uuid.UUID) error {
	body, err := json.Marshal(Job{
		PurchaseID:  purchaseID.String(),
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}
	if err := g.publisher.Publish(ctx, g.queue, body); err != nil {
		return fmt.Errorf("publish delivery job: %w", err)
	}
	return nil
}
