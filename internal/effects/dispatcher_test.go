package effects

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile"
)

type fakeDelivery struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeDelivery) Deliver(ctx context.Context, purchaseID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, purchaseID)
	return f.err
}

func (f *fakeDelivery) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePurchases struct {
	mu      sync.Mutex
	revoked []uuid.UUID
	found   *purchase.Purchase
	findErr error
}

func (f *fakePurchases) FindPurchase(ctx context.Context, id uuid.UUID) (*purchase.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.found != nil {
		return f.found, nil
	}
	return nil, purchase.ErrPurchaseNotFound
}

func (f *fakePurchases) SetAccessExpiry(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeSink) LogFailure(ctx context.Context, kind, message string, meta map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, kind)
}

func (f *fakeSink) has(kind string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.entries {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeCounterStore struct {
	mu      sync.Mutex
	weekly  map[uuid.UUID]int64
	total   map[uuid.UUID]int64
	lastSet uuid.UUID
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		weekly: make(map[uuid.UUID]int64),
		total:  make(map[uuid.UUID]int64),
	}
}

func (f *fakeCounterStore) GetSales(ctx context.Context, contentID uuid.UUID) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weekly[contentID], f.total[contentID], nil
}

func (f *fakeCounterStore) SetSales(ctx context.Context, contentID uuid.UUID, weekly, total int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekly[contentID] = weekly
	f.total[contentID] = total
	f.lastSet = contentID
	return nil
}

func TestDispatchDeliverContent(t *testing.T) {
	gw := &fakeDelivery{}
	d := NewDispatcher(nil, gw, &fakePurchases{}, &fakeSink{})

	purchaseID := uuid.New()
	errs := d.Dispatch(context.Background(), []reconcile.SideEffect{
		{Kind: reconcile.EffectDeliverContent, PurchaseID: purchaseID, PaymentID: uuid.New()},
	})

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if gw.count() != 1 || gw.calls[0] != purchaseID {
		t.Errorf("delivery gateway calls = %v", gw.calls)
	}
}

func TestDispatchDeliveryFailureIsRecordedNotFatal(t *testing.T) {
	gw := &fakeDelivery{err: errors.New("bot unreachable")}
	sink := &fakeSink{}
	d := NewDispatcher(nil, gw, &fakePurchases{}, sink)

	errs := d.Dispatch(context.Background(), []reconcile.SideEffect{
		{Kind: reconcile.EffectDeliverContent, PurchaseID: uuid.New(), PaymentID: uuid.New()},
	})

	// The error comes back for logging, and the failure is recorded for
	// manual recovery. Payment state is not this package's concern.
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if !sink.has("delivery_failed") {
		t.Error("expected a delivery_failed operational log entry")
	}
}

func TestDispatchRevokeAccess(t *testing.T) {
	ps := &fakePurchases{}
	d := NewDispatcher(nil, &fakeDelivery{}, ps, &fakeSink{})

	purchaseID := uuid.New()
	errs := d.Dispatch(context.Background(), []reconcile.SideEffect{
		{Kind: reconcile.EffectRevokeAccess, PurchaseID: purchaseID},
	})

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(ps.revoked) != 1 || ps.revoked[0] != purchaseID {
		t.Errorf("revoked = %v, want [%s]", ps.revoked, purchaseID)
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(nil, &fakeDelivery{}, &fakePurchases{}, &fakeSink{})

	errs := d.Dispatch(context.Background(), []reconcile.SideEffect{
		{Kind: "mystery", PurchaseID: uuid.New()},
	})
	if len(errs) != 1 {
		t.Errorf("expected an error for an unknown effect kind, got %v", errs)
	}
}

func TestIncrementSalesResolvesContentID(t *testing.T) {
	contentID := uuid.New()
	purchaseID := uuid.New()
	ps := &fakePurchases{found: &purchase.Purchase{ID: purchaseID, ContentID: contentID}}
	cs := newFakeCounterStore()
	d := NewDispatcher(NewSalesCounters(nil, cs), &fakeDelivery{}, ps, &fakeSink{})

	// No content id on the effect: the dispatcher must look it up rather
	// than bump a zero-id counter.
	errs := d.Dispatch(context.Background(), []reconcile.SideEffect{
		{Kind: reconcile.EffectIncrementSales, PurchaseID: purchaseID, PaymentID: uuid.New()},
	})

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if cs.lastSet != contentID {
		t.Errorf("counter bumped for %s, want %s", cs.lastSet, contentID)
	}
	if cs.total[contentID] != 1 || cs.weekly[contentID] != 1 {
		t.Errorf("counters = weekly %d total %d, want 1/1", cs.weekly[contentID], cs.total[contentID])
	}
}

func TestEnqueueRunsOnWorkers(t *testing.T) {
	gw := &fakeDelivery{}
	d := NewDispatcher(nil, gw, &fakePurchases{}, &fakeSink{})
	d.Start(2)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Enqueue([]reconcile.SideEffect{
			{Kind: reconcile.EffectDeliverContent, PurchaseID: uuid.New(), PaymentID: uuid.New()},
		})
	}

	deadline := time.After(2 * time.Second)
	for gw.count() < 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 5 deliveries ran before timeout", gw.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopDrainsQueuedEffects(t *testing.T) {
	gw := &fakeDelivery{}
	d := NewDispatcher(nil, gw, &fakePurchases{}, &fakeSink{})
	d.Start(2)

	const n = 50
	var effects []reconcile.SideEffect
	for i := 0; i < n; i++ {
		effects = append(effects, reconcile.SideEffect{
			Kind: reconcile.EffectDeliverContent, PurchaseID: uuid.New(), PaymentID: uuid.New(),
		})
	}
	d.Enqueue(effects)

	// Stop must not return until every queued delivery has run. A paid
	// purchase losing its delivery to a restart is unrecoverable: the
	// poller only sweeps pendings.
	d.Stop()

	if got := gw.count(); got != n {
		t.Fatalf("after Stop, %d of %d deliveries ran", got, n)
	}
}

func TestEnqueueAfterStopRunsInline(t *testing.T) {
	gw := &fakeDelivery{}
	d := NewDispatcher(nil, gw, &fakePurchases{}, &fakeSink{})
	d.Start(1)
	d.Stop()

	purchaseID := uuid.New()
	d.Enqueue([]reconcile.SideEffect{
		{Kind: reconcile.EffectDeliverContent, PurchaseID: purchaseID, PaymentID: uuid.New()},
	})

	if gw.count() != 1 || gw.calls[0] != purchaseID {
		t.Errorf("delivery after Stop not executed inline, calls = %v", gw.calls)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil, &fakeDelivery{}, &fakePurchases{}, &fakeSink{})
	d.Start(1)
	d.Stop()
	d.Stop()
}
