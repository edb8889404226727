package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Manhosu/CineVision-sub001/internal/events"
	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

// SideEffectKind names an action triggered by, but not part of, a state
// transition.
type SideEffectKind string

const (
	EffectIncrementSales SideEffectKind = "increment_sales"
	EffectDeliverContent SideEffectKind = "deliver_content"
	EffectRevokeAccess   SideEffectKind = "revoke_access"
)

// SideEffect is a request for the dispatcher. The reconciler only emits
// these; it never executes them.
type SideEffect struct {
	Kind       SideEffectKind
	PurchaseID uuid.UUID
	PaymentID  uuid.UUID
	ContentID  uuid.UUID
}

// Result is the outcome of processing one notification.
type Result struct {
	Accepted    bool
	PurchaseID  uuid.UUID
	NewStatus   purchase.PaymentStatus
	SideEffects []SideEffect
}

// OpLog is the operational failure sink. Security events and delivery
// failures land here for manual reconciliation.
type OpLog interface {
	LogFailure(ctx context.Context, kind, message string, meta map[string]any)
}

// Publisher emits purchase lifecycle events. May be nil when no event
// stream is configured.
type Publisher interface {
	Publish(ctx context.Context, ev events.LifecycleEvent) error
}

// Reconciler is the state machine bridging provider notifications and the
// purchase store. One instance serves all providers; the per-provider
// differences live entirely in the Processor strategies.
type Reconciler struct {
	processors map[purchase.Provider]provider.Processor
	fetchers   map[purchase.Provider]provider.StatusFetcher
	store      purchase.Store
	oplog      OpLog
	publisher  Publisher

	// Webhooks can outrun the DB commit that created the payment row, so
	// resolution retries a few times before giving up.
	lookupAttempts int
	lookupDelay    time.Duration

	// Budget for authoritative status fetches. Deliberately short: a slow
	// provider lookup degrades to "not found yet", never to an error the
	// provider could mistake for a failed webhook.
	fetchTimeout time.Duration
}

func New(store purchase.Store, oplog OpLog, processors []provider.Processor) *Reconciler {
	r := &Reconciler{
		processors:     make(map[purchase.Provider]provider.Processor, len(processors)),
		fetchers:       make(map[purchase.Provider]provider.StatusFetcher),
		store:          store,
		oplog:          oplog,
		lookupAttempts: 3,
		lookupDelay:    500 * time.Millisecond,
		fetchTimeout:   10 * time.Second,
	}
	for _, p := range processors {
		r.processors[p.Provider()] = p
	}
	return r
}

// WithFetcher registers an authoritative status fetcher for a provider.
func (r *Reconciler) WithFetcher(prov purchase.Provider, f provider.StatusFetcher) *Reconciler {
	r.fetchers[prov] = f
	return r
}

// WithPublisher registers the lifecycle event stream.
func (r *Reconciler) WithPublisher(p Publisher) *Reconciler {
	r.publisher = p
	return r
}

// WithLookupPolicy overrides the resolution retry policy. Used by tests to
// avoid real sleeps.
func (r *Reconciler) WithLookupPolicy(attempts int, delay time.Duration) *Reconciler {
	r.lookupAttempts = attempts
	r.lookupDelay = delay
	return r
}

// Reconcile is the single entry point for inbound webhooks: verify, parse,
// then apply. Nothing is touched before the signature checks out.
func (r *Reconciler) Reconcile(ctx context.Context, prov purchase.Provider, payload []byte, headers map[string]string) Result {
	proc, ok := r.processors[prov]
	if !ok {
		log.Printf("[Reconcile] no processor registered for provider %s", prov)
		return Result{}
	}

	n, err := proc.VerifyAndParse(payload, headers)
	if err != nil {
		if errors.Is(err, provider.ErrBadSignature) || errors.Is(err, provider.ErrMissingSecret) {
			// Security event. Acknowledged 200 upstream so a naive provider
			// does not retry-storm us, but nothing is applied.
			r.logFailure(ctx, "webhook_rejected",
				"signature verification failed for "+string(prov),
				map[string]any{"provider": string(prov)})
			return Result{}
		}
		log.Printf("[Reconcile] %s payload parse failed: %v", prov, err)
		return Result{}
	}
	if n == nil {
		// Authentic but an event type we deliberately ignore.
		return Result{Accepted: true}
	}

	return r.Apply(ctx, n)
}

// Apply runs the transition state machine for an already-verified
// notification. The polling reconciler enters here with synthetic
// notifications built from fetched statuses, so webhook-delivered and
// polled transitions share one code path.
func (r *Reconciler) Apply(ctx context.Context, n *provider.Notification) Result {
	pmt := r.resolvePayment(ctx, n.Provider, n.CorrelationID)
	if pmt == nil {
		return Result{}
	}

	native := n.NativeStatus
	if native == "" {
		// This provider's webhook is only a hint; ask for the real status.
		fetched, ok := r.fetchStatus(ctx, n.Provider, n.CorrelationID)
		if !ok {
			return Result{}
		}
		native = fetched
	}

	incoming := Normalize(n.Provider, native)

	// Idempotency gate: a notification already reflected in current state
	// re-runs nothing. This is what makes 10 duplicate deliveries one
	// transition and one delivery.
	if pmt.Status == incoming {
		r.refreshMirror(ctx, pmt, native)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}

	// A stale notification ranks below current state (e.g. "processing"
	// arriving after "succeeded"). Final state must not regress.
	if incoming.Rank() < pmt.Status.Rank() {
		log.Printf("[Reconcile] stale %s notification for payment %s (current %s), ignoring",
			incoming, pmt.ID, pmt.Status)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}

	switch incoming {
	case purchase.PaymentCompleted:
		return r.applyPaid(ctx, pmt, n, native)
	case purchase.PaymentFailed:
		return r.applyTerminal(ctx, pmt, n, native, purchase.PaymentFailed)
	case purchase.PaymentExpired:
		return r.applyTerminal(ctx, pmt, n, native, purchase.PaymentExpired)
	case purchase.PaymentRefunded:
		return r.applyRefund(ctx, pmt, n, native)
	default: // pending
		r.refreshMirror(ctx, pmt, native)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}
}

// resolvePayment looks the payment up by (provider, correlation id) with a
// bounded retry, because the provider often calls back before the insert
// that created the row is visible. Exhausting retries is a no-op, never an
// error surfaced to the provider.
func (r *Reconciler) resolvePayment(ctx context.Context, prov purchase.Provider, correlationID string) *purchase.Payment {
	for attempt := 1; ; attempt++ {
		pmt, err := r.store.FindPaymentByProviderCorrelation(ctx, prov, correlationID)
		if err == nil {
			return pmt
		}
		if !errors.Is(err, purchase.ErrPaymentNotFound) {
			log.Printf("[Reconcile] payment lookup failed for %s/%s: %v", prov, correlationID, err)
			return nil
		}
		if attempt >= r.lookupAttempts {
			log.Printf("[Reconcile] payment %s/%s not found after %d attempts, dropping notification",
				prov, correlationID, attempt)
			return nil
		}
		log.Printf("[Reconcile] payment %s/%s not found, retrying in %s (%d attempts left)",
			prov, correlationID, r.lookupDelay, r.lookupAttempts-attempt)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.lookupDelay):
		}
	}
}

func (r *Reconciler) fetchStatus(ctx context.Context, prov purchase.Provider, correlationID string) (string, bool) {
	f, ok := r.fetchers[prov]
	if !ok {
		log.Printf("[Reconcile] %s notification carries no status and no fetcher is registered", prov)
		return "", false
	}
	fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	native, err := f.FetchStatus(fctx, correlationID)
	if err != nil {
		// Treated like "not found yet": the polling worker will catch up.
		log.Printf("[Reconcile] status fetch for %s/%s failed: %v", prov, correlationID, err)
		return "", false
	}
	return native, true
}

func (r *Reconciler) applyPaid(ctx context.Context, pmt *purchase.Payment, n *provider.Notification, native string) Result {
	applied, err := r.store.ConditionalTransition(ctx,
		pmt.ID, purchase.PaymentPending, purchase.PaymentCompleted,
		pmt.PurchaseID, purchase.PurchasePending, purchase.PurchasePaid)
	if err != nil {
		log.Printf("[Reconcile] paid transition for payment %s failed: %v", pmt.ID, err)
		return Result{}
	}
	if !applied {
		// Lost the race, or the purchase was already paid by a different
		// payment. Either way this is a no-op, not an error. The mirror is
		// still refreshed so the poller stops re-fetching this payment.
		log.Printf("[Reconcile] paid transition for payment %s not applied (current %s)", pmt.ID, pmt.Status)
		r.refreshMirror(ctx, pmt, native)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}

	r.refreshMirror(ctx, pmt, native)
	r.publish(ctx, pmt, "purchase.paid", purchase.PaymentCompleted)

	effects := []SideEffect{
		{Kind: EffectIncrementSales, PurchaseID: pmt.PurchaseID, PaymentID: pmt.ID},
		{Kind: EffectDeliverContent, PurchaseID: pmt.PurchaseID, PaymentID: pmt.ID},
	}
	if pur, err := r.store.FindPurchase(ctx, pmt.PurchaseID); err == nil {
		for i := range effects {
			effects[i].ContentID = pur.ContentID
		}
	} else {
		// Both effects still go out; the dispatcher resolves the content id
		// at execution time when it is missing.
		log.Printf("[Reconcile] purchase %s fetch for side effects failed: %v", pmt.PurchaseID, err)
	}

	return Result{
		Accepted:    true,
		PurchaseID:  pmt.PurchaseID,
		NewStatus:   purchase.PaymentCompleted,
		SideEffects: effects,
	}
}

func (r *Reconciler) applyTerminal(ctx context.Context, pmt *purchase.Payment, n *provider.Notification, native string, target purchase.PaymentStatus) Result {
	applied, err := r.store.ConditionalTransition(ctx,
		pmt.ID, purchase.PaymentPending, target,
		pmt.PurchaseID, purchase.PurchasePending, PurchaseStatusFor(target))
	if err != nil {
		log.Printf("[Reconcile] %s transition for payment %s failed: %v", target, pmt.ID, err)
		return Result{}
	}
	if !applied {
		log.Printf("[Reconcile] %s transition for payment %s not applied (current %s)", target, pmt.ID, pmt.Status)
		r.refreshMirror(ctx, pmt, native)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}

	if target == purchase.PaymentFailed && (n.FailureCode != nil || n.FailureMessage != nil) {
		if err := r.store.RecordFailureDetails(ctx, pmt.ID, n.FailureCode, n.FailureMessage); err != nil {
			log.Printf("[Reconcile] recording failure details for payment %s failed: %v", pmt.ID, err)
		}
	}

	r.refreshMirror(ctx, pmt, native)
	r.publish(ctx, pmt, "purchase."+string(PurchaseStatusFor(target)), target)

	return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: target}
}

func (r *Reconciler) applyRefund(ctx context.Context, pmt *purchase.Payment, n *provider.Notification, native string) Result {
	applied, err := r.store.ConditionalTransition(ctx,
		pmt.ID, purchase.PaymentCompleted, purchase.PaymentRefunded,
		pmt.PurchaseID, purchase.PurchasePaid, purchase.PurchaseRefunded)
	if err != nil {
		log.Printf("[Reconcile] refund transition for payment %s failed: %v", pmt.ID, err)
		return Result{}
	}
	if !applied {
		// Refund for a purchase that is not paid (or already refunded):
		// nothing to revoke.
		log.Printf("[Reconcile] refund for payment %s not applied (current %s)", pmt.ID, pmt.Status)
		r.refreshMirror(ctx, pmt, native)
		return Result{Accepted: true, PurchaseID: pmt.PurchaseID, NewStatus: pmt.Status}
	}

	if n.RefundID != "" || n.RefundAmountCents > 0 {
		if err := r.store.RecordRefundDetails(ctx, pmt.ID, n.RefundID, n.RefundAmountCents, n.RefundReason); err != nil {
			log.Printf("[Reconcile] recording refund details for payment %s failed: %v", pmt.ID, err)
		}
	}

	r.refreshMirror(ctx, pmt, native)
	r.publish(ctx, pmt, "purchase.refunded", purchase.PaymentRefunded)

	return Result{
		Accepted:   true,
		PurchaseID: pmt.PurchaseID,
		NewStatus:  purchase.PaymentRefunded,
		SideEffects: []SideEffect{
			{Kind: EffectRevokeAccess, PurchaseID: pmt.PurchaseID, PaymentID: pmt.ID},
		},
	}
}

// refreshMirror keeps the cosmetic native-status column in sync. Only
// written when it actually changed; failures are logged and forgotten.
func (r *Reconciler) refreshMirror(ctx context.Context, pmt *purchase.Payment, native string) {
	if native == "" || pmt.NativeStatus == native {
		return
	}
	if err := r.store.UpdateNativeStatus(ctx, pmt.ID, native); err != nil {
		log.Printf("[Reconcile] native status mirror update for payment %s failed: %v", pmt.ID, err)
	}
}

func (r *Reconciler) publish(ctx context.Context, pmt *purchase.Payment, eventType string, status purchase.PaymentStatus) {
	if r.publisher == nil {
		return
	}
	ev := events.LifecycleEvent{
		Type:        eventType,
		PurchaseID:  pmt.PurchaseID.String(),
		PaymentID:   pmt.ID.String(),
		Provider:    string(pmt.Provider),
		AmountCents: pmt.AmountCents,
		Currency:    pmt.Currency,
		Status:      string(status),
		OccurredAt:  time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[Reconcile] lifecycle event publish failed: %v", err)
	}
}

func (r *Reconciler) logFailure(ctx context.Context, kind, message string, meta map[string]any) {
	if r.oplog == nil {
		log.Printf("[Reconcile] %s: %s", kind, message)
		return
	}
	r.oplog.LogFailure(ctx, kind, message, meta)
}
