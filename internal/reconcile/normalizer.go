package reconcile

import (
	"log"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
)

// Normalize maps a provider's native status vocabulary onto the canonical
// payment status. This table is the single source of truth for every
// provider; processors never translate statuses themselves.
//
// An unknown native status maps to PENDING: a vocabulary we have never seen
// must not be silently treated as terminal, only logged for an operator.
func Normalize(prov purchase.Provider, native string) purchase.PaymentStatus {
	switch native {
	case "succeeded", "approved", "COMPLETED":
		return purchase.PaymentCompleted

	case "processing", "requires_action", "requires_confirmation",
		"in_process", "pending", "ACTIVE":
		return purchase.PaymentPending

	case "requires_payment_method", "canceled", "cancelled", "rejected":
		return purchase.PaymentFailed

	case "EXPIRED":
		return purchase.PaymentExpired

	case "refunded", "charged_back":
		return purchase.PaymentRefunded
	}

	log.Printf("[Normalizer] unknown native status %q from provider %s, treating as pending", native, prov)
	return purchase.PaymentPending
}

// PurchaseStatusFor translates a canonical payment status into the purchase
// status it implies.
func PurchaseStatusFor(s purchase.PaymentStatus) purchase.PurchaseStatus {
	switch s {
	case purchase.PaymentCompleted:
		return purchase.PurchasePaid
	case purchase.PaymentFailed:
		return purchase.PurchaseFailed
	case purchase.PaymentRefunded:
		return purchase.PurchaseRefunded
	case purchase.PaymentExpired:
		return purchase.PurchaseExpired
	}
	return purchase.PurchasePending
}
