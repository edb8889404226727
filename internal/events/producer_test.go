package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)

	ev := LifecycleEvent{
		Type:        "purchase.paid",
		PurchaseID:  "7b0c7e1e-9b7b-4d1a-9e1e-2f4f9f0a1b2c",
		PaymentID:   "f3f6a8d0-1234-4cde-8f00-aabbccddeeff",
		Provider:    "stripe",
		AmountCents: 1999,
		Currency:    "BRL",
		Status:      "COMPLETED",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages written = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != ev.PurchaseID {
		t.Errorf("key = %q, want the purchase id", w.msgs[0].Key)
	}

	var got map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("value is not valid JSON: %v", err)
	}
	if got["type"] != "purchase.paid" || got["purchase_id"] != ev.PurchaseID {
		t.Errorf("value = %v", got)
	}
	if got["amount_cents"] != float64(1999) || got["status"] != "COMPLETED" {
		t.Errorf("value = %v", got)
	}
}

func TestPublishWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w)

	if err := p.Publish(context.Background(), LifecycleEvent{PurchaseID: "k"}); err == nil {
		t.Error("expected the write error to propagate")
	}
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.closed {
		t.Error("underlying writer not closed")
	}
}
