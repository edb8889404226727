package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentStore handles persistence of payment attempts.
type PaymentStore interface {
	// CreatePayment records the intent to collect. Must be called before the
	// provider is asked to charge, so webhooks always have a row to join on.
	// Returns ErrDuplicatePayment when (provider, provider_payment_id)
	// already exists.
	CreatePayment(ctx context.Context, p *Payment) error

	// FindPaymentByProviderCorrelation is the webhook join: looks a payment
	// up by the provider-assigned correlation id.
	FindPaymentByProviderCorrelation(ctx context.Context, provider Provider, correlationID string) (*Payment, error)

	// FindPendingPaymentByPurchase returns the open attempt for a purchase
	// with the given provider, if one exists. Used to return an existing
	// charge instead of creating a duplicate.
	FindPendingPaymentByPurchase(ctx context.Context, purchaseID uuid.UUID, provider Provider) (*Payment, error)

	// UpdateNativeStatus refreshes the raw provider status mirror without
	// touching canonical state.
	UpdateNativeStatus(ctx context.Context, paymentID uuid.UUID, native string) error

	// RecordRefundDetails stamps refund id/amount/reason on a payment.
	RecordRefundDetails(ctx context.Context, paymentID uuid.UUID, refundID string, amountCents int64, reason string) error

	// RecordFailureDetails stamps the provider failure code/message.
	RecordFailureDetails(ctx context.Context, paymentID uuid.UUID, code, message *string) error

	// GetStuckPending fetches payments still PENDING for longer than
	// olderThan, oldest first, for the polling reconciler.
	GetStuckPending(ctx context.Context, limit int, olderThan time.Duration) ([]*Payment, error)
}

// PurchaseStore handles persistence of purchases.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, p *Purchase) error

	FindPurchase(ctx context.Context, id uuid.UUID) (*Purchase, error)

	// SetAccessExpiry overwrites access_expires_at. Idempotent: setting an
	// already-past expiry again is harmless.
	SetAccessExpiry(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TransitionStore applies the payment+purchase state change as one logical
// unit. Both rows move or neither is visibly applied.
type TransitionStore interface {
	// ConditionalTransition executes
	//   payment:  expectedStatus  -> newStatus
	//   purchase: expectedPurchaseStatus -> newPurchaseStatus
	// as conditional single-row updates inside one transaction. It returns
	// applied=false (and no error) when either row was not in its expected
	// state: that is how a stale or duplicate notification loses the race
	// without corrupting anything.
	ConditionalTransition(
		ctx context.Context,
		paymentID uuid.UUID, expectedStatus, newStatus PaymentStatus,
		purchaseID uuid.UUID, expectedPurchaseStatus, newPurchaseStatus PurchaseStatus,
	) (applied bool, err error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	PaymentStore
	PurchaseStore
	TransitionStore
}
