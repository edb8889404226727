package purchase

import "testing"

func TestPaymentStatusRank(t *testing.T) {
	// Pending ranks below every outcome; refunded outranks completed so a
	// refund can still move a completed payment forward.
	if PaymentPending.Rank() >= PaymentCompleted.Rank() {
		t.Error("pending must rank below completed")
	}
	if PaymentCompleted.Rank() >= PaymentRefunded.Rank() {
		t.Error("completed must rank below refunded")
	}
	if PaymentFailed.Rank() != PaymentCompleted.Rank() {
		t.Error("failed and completed are both first-outcome states")
	}
	if PaymentExpired.Rank() != PaymentFailed.Rank() {
		t.Error("expired and failed are both first-outcome states")
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	cases := map[PaymentStatus]bool{
		PaymentPending:   false,
		PaymentCompleted: false, // can still be refunded
		PaymentFailed:    true,
		PaymentExpired:   true,
		PaymentRefunded:  true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
