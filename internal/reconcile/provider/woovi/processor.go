package woovi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

// Webhook event types this processor acts on.
const (
	eventChargeCreated   = "OPENPIX:CHARGE_CREATED"
	eventChargeCompleted = "OPENPIX:CHARGE_COMPLETED"
	eventChargeExpired   = "OPENPIX:CHARGE_EXPIRED"
	eventTxReceived      = "OPENPIX:TRANSACTION_RECEIVED"
	eventRefundReceived  = "OPENPIX:TRANSACTION_REFUND_RECEIVED"
)

type webhookBody struct {
	Event  string `json:"event"`
	Charge *struct {
		Status        string `json:"status"`
		Value         int64  `json:"value"`
		CorrelationID string `json:"correlationID"`
		TransactionID string `json:"transactionID"`
		PaidAt        string `json:"paidAt"`
	} `json:"charge"`
	Pix *struct {
		EndToEndID string `json:"endToEndId"`
		TxID       string `json:"txid"`
		Value      int64  `json:"value"`
		Time       string `json:"time"`
	} `json:"pix"`
}

// Processor verifies and parses notifications from the second PIX gateway.
// The signature is HMAC-SHA256 over the raw body, base64-encoded, in the
// x-webhook-signature header.
type Processor struct {
	secret string
	// allowUnverified accepts payloads without verification when no secret
	// is configured. Only for explicitly-flagged non-production setups;
	// production fails closed.
	allowUnverified bool
}

func New(secret string, allowUnverified bool) *Processor {
	return &Processor{secret: secret, allowUnverified: allowUnverified}
}

func (p *Processor) Provider() purchase.Provider {
	return purchase.ProviderWoovi
}

func (p *Processor) VerifyAndParse(payload []byte, headers map[string]string) (*provider.Notification, error) {
	if !p.verifySignature(payload, headers["X-Webhook-Signature"]) {
		return nil, provider.ErrBadSignature
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("woovi: decode body: %w", err)
	}

	if body.Charge == nil || body.Charge.CorrelationID == "" {
		log.Printf("[Webhook] woovi %s notification without correlation id", body.Event)
		return nil, nil
	}

	n := &provider.Notification{
		Provider:      purchase.ProviderWoovi,
		CorrelationID: body.Charge.CorrelationID,
		TransactionID: body.Charge.TransactionID,
	}

	switch body.Event {
	case eventChargeCompleted, eventTxReceived:
		n.NativeStatus = "COMPLETED"
		if t := parseTime(body.Charge.PaidAt); t != nil {
			n.PaidAt = t
		} else if body.Pix != nil {
			n.PaidAt = parseTime(body.Pix.Time)
		}
		if body.Pix != nil {
			n.EndToEndID = body.Pix.EndToEndID
		}
	case eventChargeExpired:
		n.NativeStatus = "EXPIRED"
	case eventRefundReceived:
		n.NativeStatus = "refunded"
		if body.Pix != nil {
			n.RefundID = body.Pix.EndToEndID
			n.RefundAmountCents = body.Pix.Value
		}
	case eventChargeCreated:
		// Charge acknowledged; nothing to reconcile yet.
		return nil, nil
	default:
		log.Printf("[Webhook] woovi event %q ignored", body.Event)
		return nil, nil
	}

	return n, nil
}

func (p *Processor) verifySignature(payload []byte, signature string) bool {
	if p.secret == "" {
		if p.allowUnverified {
			log.Printf("[Webhook] woovi secret not configured, accepting UNVERIFIED notification (non-production mode)")
			return true
		}
		log.Printf("[Webhook] woovi secret not configured, rejecting notification")
		return false
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
