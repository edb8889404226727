package provider

import (
	"context"
	"errors"
	"time"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
)

// Verification errors. Anything else returned by VerifyAndParse is a parse
// problem with an authentic payload.
var (
	ErrBadSignature  = errors.New("webhook signature verification failed")
	ErrMissingSecret = errors.New("webhook secret not configured")
)

// Notification is the universal language of the engine: every provider's
// payload is reduced to this before any state is touched. NativeStatus is
// the provider's raw vocabulary; normalization happens downstream so that
// the mapping table lives in exactly one place.
type Notification struct {
	Provider      purchase.Provider
	CorrelationID string
	NativeStatus  string

	// Optional enrichment carried into the payment's metadata/refund fields.
	TransactionID  string
	EndToEndID     string
	PaidAt         *time.Time
	FailureCode    *string
	FailureMessage *string

	RefundID          string
	RefundAmountCents int64
	RefundReason      string
}

// Processor is the per-provider strategy: verify the raw webhook bytes and
// reduce them to a Notification. Implementations must never mutate state.
//
// Returning (nil, nil) means "authentic but irrelevant" (an event type we
// deliberately ignore). Returning ErrBadSignature means the payload cannot
// be trusted at all.
type Processor interface {
	Provider() purchase.Provider
	VerifyAndParse(payload []byte, headers map[string]string) (*Notification, error)
}

// StatusFetcher asks a provider for the authoritative status of a charge.
// Used by the polling reconciler when notifications were lost, and by
// providers whose webhooks are only hints (the id arrives, the status must
// be fetched).
type StatusFetcher interface {
	FetchStatus(ctx context.Context, correlationID string) (nativeStatus string, err error)
}
