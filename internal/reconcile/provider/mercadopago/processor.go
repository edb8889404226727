package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

// webhookBody is the notification shape. It only carries the payment id;
// the authoritative status must be fetched from the provider afterwards.
type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	ID     string `json:"id"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Processor verifies and parses PIX notifications from the first PIX
// gateway. The signature header has the form "ts=<unix>,v1=<hex>" and signs
// the manifest "id:<payment_id>;request-id:<request_id>;ts:<ts>;".
type Processor struct {
	secret string
}

func New(secret string) *Processor {
	return &Processor{secret: secret}
}

func (p *Processor) Provider() purchase.Provider {
	return purchase.ProviderMercadoPago
}

func (p *Processor) VerifyAndParse(payload []byte, headers map[string]string) (*provider.Notification, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("mercadopago: decode body: %w", err)
	}

	// Only payment notifications matter; merchant_order etc. are noise.
	if body.Type != "payment" && !strings.HasPrefix(body.Action, "payment.") {
		return nil, nil
	}

	paymentID := body.Data.ID
	if paymentID == "" {
		paymentID = body.ID
	}
	if paymentID == "" {
		log.Printf("[Webhook] mercadopago notification without payment id")
		return nil, nil
	}

	if !p.verifySignature(paymentID, headers) {
		return nil, provider.ErrBadSignature
	}

	// NativeStatus is left empty on purpose: this provider's webhook is a
	// hint, the real status comes from a follow-up fetch.
	return &provider.Notification{
		Provider:      purchase.ProviderMercadoPago,
		CorrelationID: paymentID,
	}, nil
}

// verifySignature checks the ts/v1 HMAC. A missing secret rejects the
// payload: there is no unverified mode for a gateway that moves money.
func (p *Processor) verifySignature(paymentID string, headers map[string]string) bool {
	if p.secret == "" {
		log.Printf("[Webhook] mercadopago secret not configured, rejecting notification")
		return false
	}

	sig := headers["X-Signature"]
	requestID := headers["X-Request-Id"]
	if sig == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(sig, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(v1)))
}
