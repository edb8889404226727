package stripe

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

// Processor handles the card gateway's webhooks. Verification is delegated
// to the provider library's signed-event construction; any failure there is
// an untrusted payload.
type Processor struct {
	secret string
}

func New(secret string) *Processor {
	return &Processor{secret: secret}
}

func (p *Processor) Provider() purchase.Provider {
	return purchase.ProviderStripe
}

func (p *Processor) VerifyAndParse(payload []byte, headers map[string]string) (*provider.Notification, error) {
	if p.secret == "" {
		return nil, provider.ErrMissingSecret
	}

	event, err := webhook.ConstructEvent(payload, headers["Stripe-Signature"], p.secret)
	if err != nil {
		log.Printf("[Webhook] stripe signature rejected: %v", err)
		return nil, provider.ErrBadSignature
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		return p.parsePaymentIntent(event)
	case "charge.refunded":
		return p.parseRefund(event)
	}

	// Authentic but not an event we act on.
	return nil, nil
}

func (p *Processor) parsePaymentIntent(event stripe.Event) (*provider.Notification, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
	}

	n := &provider.Notification{
		Provider:      purchase.ProviderStripe,
		CorrelationID: pi.ID,
		NativeStatus:  string(pi.Status),
	}

	if event.Type == "payment_intent.succeeded" {
		// The event type is authoritative even if the embedded object lags.
		n.NativeStatus = "succeeded"
	}

	if pi.LastPaymentError != nil {
		code := string(pi.LastPaymentError.Code)
		msg := pi.LastPaymentError.Msg
		n.FailureCode = &code
		n.FailureMessage = &msg
	}

	return n, nil
}

func (p *Processor) parseRefund(event stripe.Event) (*provider.Notification, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return nil, fmt.Errorf("stripe: decode charge: %w", err)
	}
	if ch.PaymentIntent == nil {
		return nil, fmt.Errorf("stripe: refunded charge %s has no payment intent", ch.ID)
	}

	n := &provider.Notification{
		Provider:          purchase.ProviderStripe,
		CorrelationID:     ch.PaymentIntent.ID,
		NativeStatus:      "refunded",
		RefundAmountCents: ch.AmountRefunded,
	}
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		r := ch.Refunds.Data[0]
		n.RefundID = r.ID
		n.RefundReason = string(r.Reason)
		if r.Created > 0 {
			t := time.Unix(r.Created, 0).UTC()
			n.PaidAt = &t
		}
	}
	return n, nil
}
