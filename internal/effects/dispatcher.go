// Package effects executes the non-transactional actions a state
// transition triggers: counter increments, content delivery, access
// revocation. Failures here are logged and recorded for operators, never
// propagated back to the webhook path.
package effects

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Manhosu/CineVision-sub001/internal/oplog"
	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile"
)

// DeliveryGateway sends the purchased content's access artifact to the
// buyer's channel. Fire-and-forget from this package's perspective.
type DeliveryGateway interface {
	Deliver(ctx context.Context, purchaseID uuid.UUID) error
}

// PurchaseAccess is the slice of the purchase store the dispatcher touches:
// revoking access on refunds and resolving content ids for counter bumps.
type PurchaseAccess interface {
	FindPurchase(ctx context.Context, id uuid.UUID) (*purchase.Purchase, error)
	SetAccessExpiry(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Dispatcher runs side effects on background workers so the webhook
// acknowledgement never waits on a slow delivery channel. The queue is
// bounded; when it is full the effect is executed inline rather than
// dropped, because a lost delivery is worse than a slow response.
type Dispatcher struct {
	counters  *SalesCounters
	delivery  DeliveryGateway
	purchases PurchaseAccess
	oplog     oplog.Sink

	mu      sync.Mutex
	stopped bool
	tasks   chan reconcile.SideEffect
	wg      sync.WaitGroup

	// effectTimeout bounds each individual effect execution.
	effectTimeout time.Duration
}

func NewDispatcher(counters *SalesCounters, delivery DeliveryGateway, purchases PurchaseAccess, sink oplog.Sink) *Dispatcher {
	return &Dispatcher{
		counters:      counters,
		delivery:      delivery,
		purchases:     purchases,
		oplog:         sink,
		tasks:         make(chan reconcile.SideEffect, 1000),
		effectTimeout: 30 * time.Second,
	}
}

// Start launches the background workers.
func (d *Dispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop closes the queue, drains every effect already enqueued and waits for
// the workers to finish. Nothing queued is ever discarded: a paid purchase
// must not lose its delivery to a shutdown.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue hands effects to the background workers. Never blocks and never
// drops: on a full queue, or after Stop, the effect runs inline on the
// calling goroutine.
func (d *Dispatcher) Enqueue(effects []reconcile.SideEffect) {
	for _, e := range effects {
		if !d.submit(e) {
			d.run(e)
		}
	}
}

func (d *Dispatcher) submit(e reconcile.SideEffect) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.tasks <- e:
		return true
	default:
		log.Printf("[Dispatcher] queue full, running %s for purchase %s inline", e.Kind, e.PurchaseID)
		return false
	}
}

// Dispatch executes the effects synchronously and returns the failures.
// The returned errors are for logging only; callers must not turn them
// into responses.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []reconcile.SideEffect) []error {
	var errs []error
	for _, e := range effects {
		if err := d.execute(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for e := range d.tasks {
		d.run(e)
	}
}

func (d *Dispatcher) run(e reconcile.SideEffect) {
	ctx, cancel := context.WithTimeout(context.Background(), d.effectTimeout)
	defer cancel()
	if err := d.execute(ctx, e); err != nil {
		log.Printf("[Dispatcher] %s for purchase %s failed: %v", e.Kind, e.PurchaseID, err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, e reconcile.SideEffect) error {
	switch e.Kind {
	case reconcile.EffectIncrementSales:
		return d.incrementSales(ctx, e)
	case reconcile.EffectDeliverContent:
		return d.deliverContent(ctx, e)
	case reconcile.EffectRevokeAccess:
		return d.revokeAccess(ctx, e)
	}
	return fmt.Errorf("unknown side effect kind %q", e.Kind)
}

func (d *Dispatcher) incrementSales(ctx context.Context, e reconcile.SideEffect) error {
	if d.counters == nil {
		return nil
	}
	contentID := e.ContentID
	if contentID == uuid.Nil {
		// The emitter could not resolve the content id; look it up here.
		pur, err := d.purchases.FindPurchase(ctx, e.PurchaseID)
		if err != nil {
			return fmt.Errorf("resolve content for purchase %s: %w", e.PurchaseID, err)
		}
		contentID = pur.ContentID
	}
	if err := d.counters.Increment(ctx, contentID); err != nil {
		// Best effort only. No oplog record: a missed display counter is
		// not something an operator needs to chase.
		return fmt.Errorf("increment sales for content %s: %w", contentID, err)
	}
	return nil
}

func (d *Dispatcher) deliverContent(ctx context.Context, e reconcile.SideEffect) error {
	err := d.delivery.Deliver(ctx, e.PurchaseID)
	if err == nil {
		log.Printf("[Dispatcher] delivery requested for purchase %s", e.PurchaseID)
		return nil
	}

	// Money was captured; the obligation to deliver stands. Record the
	// failure for manual recovery and leave the paid state untouched.
	if d.oplog != nil {
		d.oplog.LogFailure(ctx, "delivery_failed",
			fmt.Sprintf("failed to deliver content for purchase %s after payment approval: %v", e.PurchaseID, err),
			map[string]any{
				"purchase_id": e.PurchaseID.String(),
				"payment_id":  e.PaymentID.String(),
				"error":       err.Error(),
			})
	}
	return fmt.Errorf("deliver content for purchase %s: %w", e.PurchaseID, err)
}

func (d *Dispatcher) revokeAccess(ctx context.Context, e reconcile.SideEffect) error {
	if err := d.purchases.SetAccessExpiry(ctx, e.PurchaseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke access for purchase %s: %w", e.PurchaseID, err)
	}
	log.Printf("[Dispatcher] access revoked for purchase %s", e.PurchaseID)
	return nil
}
