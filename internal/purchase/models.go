package purchase

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Standard domain errors.
var (
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrDuplicatePayment  = errors.New("payment already exists for this provider correlation id")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Provider identifies which external gateway a Payment belongs to.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderMercadoPago Provider = "mercadopago"
	ProviderWoovi       Provider = "woovi"
)

// PurchaseStatus is the canonical, provider-agnostic purchase state.
// Allowed transitions: PENDING -> {PAID, FAILED, EXPIRED}, PAID -> REFUNDED.
// FAILED, EXPIRED and REFUNDED are terminal.
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "PENDING"
	PurchasePaid     PurchaseStatus = "PAID"
	PurchaseFailed   PurchaseStatus = "FAILED"
	PurchaseRefunded PurchaseStatus = "REFUNDED"
	PurchaseExpired  PurchaseStatus = "EXPIRED"
)

// PaymentStatus mirrors PurchaseStatus at the level of one collection
// attempt. A payment only ever moves forward:
// PENDING -> {COMPLETED, FAILED, EXPIRED}, COMPLETED -> REFUNDED.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// Rank orders payment statuses so that a transition can be checked for
// monotonic forward movement. A notification that would lower the rank is
// stale and must be rejected.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentCompleted, PaymentFailed, PaymentExpired:
		return 1
	case PaymentRefunded:
		return 2
	}
	return 0
}

// Terminal reports whether no further transition is defined out of s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentExpired || s == PaymentRefunded
}

// Metadata is the typed extension map stashed on purchases and payments.
// Channel-specific data goes here instead of new columns; the known keys
// are documented below so access stays greppable.
type Metadata map[string]string

// Known metadata keys.
const (
	MetaTelegramChatID = "telegram_chat_id" // delivery address for the bot channel
	MetaTransactionID  = "transaction_id"   // provider transaction reference
	MetaEndToEndID     = "end_to_end_id"    // PIX end-to-end identifier
	MetaPaidAt         = "paid_at"          // provider-reported payment time
	MetaLanguage       = "language"         // buyer locale for delivery messages
)

// Purchase is one buyer's intent to acquire one content item. The price is
// snapshotted at creation time and never re-read from the catalog.
type Purchase struct {
	ID              uuid.UUID
	BuyerID         *uuid.UUID // nil for anonymous flows
	ContentID       uuid.UUID
	AmountCents     int64
	Currency        string
	Status          PurchaseStatus
	ProviderRef     *string // correlation id of the winning payment, if any
	Metadata        Metadata
	AccessExpiresAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payment is one attempt, by one provider, to collect money for a Purchase.
// (Provider, ProviderPaymentID) is unique: it is the join key for every
// inbound notification.
type Payment struct {
	ID                uuid.UUID
	PurchaseID        uuid.UUID
	Provider          Provider
	ProviderPaymentID string
	Status            PaymentStatus
	// NativeStatus mirrors the provider's last reported raw status. It is
	// cosmetic: canonical state lives in Status.
	NativeStatus string
	AmountCents  int64
	Currency     string

	FailureCode    *string
	FailureMessage *string

	RefundID          *string
	RefundAmountCents *int64
	RefundReason      *string

	CreatedAt   time.Time
	ProcessedAt *time.Time
	RefundedAt  *time.Time
}
