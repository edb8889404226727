package woovi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

const testSecret = "woovi_test_secret"

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func headersFor(payload []byte, secret string) map[string]string {
	return map[string]string{"X-Webhook-Signature": sign(payload, secret)}
}

func TestVerifyAndParseChargeCompleted(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{
		"event": "OPENPIX:CHARGE_COMPLETED",
		"charge": {"status":"COMPLETED","value":1999,"correlationID":"corr-1","transactionID":"tx-1","paidAt":"2026-08-30T12:00:00Z"},
		"pix": {"endToEndId":"E12345","value":1999,"time":"2026-08-30T12:00:01Z"}
	}`)

	n, err := p.VerifyAndParse(payload, headersFor(payload, testSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if n.Provider != purchase.ProviderWoovi {
		t.Errorf("provider = %s", n.Provider)
	}
	if n.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q", n.CorrelationID)
	}
	if n.NativeStatus != "COMPLETED" {
		t.Errorf("native status = %q, want COMPLETED", n.NativeStatus)
	}
	if n.EndToEndID != "E12345" {
		t.Errorf("end to end id = %q", n.EndToEndID)
	}
	if n.PaidAt == nil {
		t.Error("paid at missing")
	}
}

func TestVerifyAndParseChargeExpired(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{"event":"OPENPIX:CHARGE_EXPIRED","charge":{"status":"EXPIRED","correlationID":"corr-1"}}`)

	n, err := p.VerifyAndParse(payload, headersFor(payload, testSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if n.NativeStatus != "EXPIRED" {
		t.Errorf("native status = %q, want EXPIRED", n.NativeStatus)
	}
}

func TestVerifyAndParseRefund(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{
		"event": "OPENPIX:TRANSACTION_REFUND_RECEIVED",
		"charge": {"correlationID":"corr-1"},
		"pix": {"endToEndId":"D98765","value":1999}
	}`)

	n, err := p.VerifyAndParse(payload, headersFor(payload, testSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if n.NativeStatus != "refunded" {
		t.Errorf("native status = %q, want refunded", n.NativeStatus)
	}
	if n.RefundID != "D98765" || n.RefundAmountCents != 1999 {
		t.Errorf("refund details = %q/%d", n.RefundID, n.RefundAmountCents)
	}
}

func TestVerifyAndParseIgnoresChargeCreated(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{"event":"OPENPIX:CHARGE_CREATED","charge":{"status":"ACTIVE","correlationID":"corr-1"}}`)

	n, err := p.VerifyAndParse(payload, headersFor(payload, testSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if n != nil {
		t.Errorf("charge created should be ignored, got %+v", n)
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{"event":"OPENPIX:CHARGE_COMPLETED","charge":{"correlationID":"corr-1"}}`)

	cases := map[string]map[string]string{
		"wrong secret":           headersFor(payload, "other_secret"),
		"missing header":         {},
		"empty header":           {"X-Webhook-Signature": ""},
		"not base64 of the body": {"X-Webhook-Signature": "Zm9yZ2Vk"},
	}
	for name, headers := range cases {
		if _, err := p.VerifyAndParse(payload, headers); !errors.Is(err, provider.ErrBadSignature) {
			t.Errorf("%s: err = %v, want ErrBadSignature", name, err)
		}
	}
}

func TestVerifyAndParseTamperedBody(t *testing.T) {
	p := New(testSecret, false)
	payload := []byte(`{"event":"OPENPIX:CHARGE_COMPLETED","charge":{"correlationID":"corr-1"}}`)
	headers := headersFor(payload, testSecret)

	tampered := []byte(`{"event":"OPENPIX:CHARGE_COMPLETED","charge":{"correlationID":"corr-EVIL"}}`)
	if _, err := p.VerifyAndParse(tampered, headers); !errors.Is(err, provider.ErrBadSignature) {
		t.Errorf("tampered body: err = %v, want ErrBadSignature", err)
	}
}

func TestMissingSecretFailsClosed(t *testing.T) {
	p := New("", false)
	payload := []byte(`{"event":"OPENPIX:CHARGE_COMPLETED","charge":{"correlationID":"corr-1"}}`)

	if _, err := p.VerifyAndParse(payload, nil); !errors.Is(err, provider.ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestMissingSecretAllowedWhenFlagged(t *testing.T) {
	p := New("", true)
	payload := []byte(`{"event":"OPENPIX:CHARGE_COMPLETED","charge":{"correlationID":"corr-1"}}`)

	n, err := p.VerifyAndParse(payload, nil)
	if err != nil {
		t.Fatalf("VerifyAndParse: %v", err)
	}
	if n == nil || n.CorrelationID != "corr-1" {
		t.Errorf("expected parsed notification, got %+v", n)
	}
}
