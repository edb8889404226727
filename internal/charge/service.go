// Package charge creates purchases and their payment attempts. The price
// is snapshotted from the catalog at creation time and never re-read; from
// here on the reconciliation engine owns all state changes.
package charge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Manhosu/CineVision-sub001/internal/pix"
	"github.com/Manhosu/CineVision-sub001/internal/purchase"
)

var (
	ErrInvalidAmount   = errors.New("invalid charge amount")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrAlreadyPaid     = errors.New("purchase is already paid")
	ErrNotPending      = errors.New("purchase is not open for payment")
)

// MerchantInfo is the receiving side of every PIX charge.
type MerchantInfo struct {
	PixKey string
	Name   string
	City   string
}

// Input describes one charge request.
type Input struct {
	// PurchaseID reuses an existing purchase (a retry with another
	// provider). Zero value creates a new one.
	PurchaseID uuid.UUID

	ContentID   uuid.UUID
	BuyerID     *uuid.UUID
	AmountCents int64
	Currency    string
	Provider    purchase.Provider

	// CorrelationID is the provider-assigned charge id for provider-hosted
	// flows. Empty for the direct PIX flow, where we mint the reference
	// ourselves and encode the QR locally.
	CorrelationID string

	Description *string
	Metadata    purchase.Metadata
}

// Charge is the created (or re-fetched) charge.
type Charge struct {
	Purchase *purchase.Purchase
	Payment  *purchase.Payment
	// QR is set for direct PIX charges.
	QR *pix.Payload
}

// Service creates charges. Concurrent requests for the same purchase are
// collapsed by singleflight so a double-tap in the bot cannot create two
// payment rows.
type Service struct {
	store    purchase.Store
	merchant MerchantInfo

	sf singleflight.Group
}

func NewService(store purchase.Store, merchant MerchantInfo) *Service {
	return &Service{store: store, merchant: merchant}
}

// CreatePixCharge creates or resumes a PIX charge for a purchase.
func (s *Service) CreatePixCharge(ctx context.Context, in Input) (*Charge, error) {
	if in.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(in.Currency) != 3 {
		return nil, ErrInvalidCurrency
	}

	key := s.flightKey(in)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.createCharge(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Charge), nil
}

func (s *Service) flightKey(in Input) string {
	if in.PurchaseID != uuid.Nil {
		return "charge_" + in.PurchaseID.String()
	}
	buyer := "anon"
	if in.BuyerID != nil {
		buyer = in.BuyerID.String()
	}
	return fmt.Sprintf("charge_%s_%s", in.ContentID, buyer)
}

func (s *Service) createCharge(ctx context.Context, in Input) (*Charge, error) {
	pur, err := s.resolvePurchase(ctx, in)
	if err != nil {
		return nil, err
	}

	// Resume an open attempt instead of stacking duplicates. The QR is a
	// pure function of the charge, so re-encoding reproduces the exact
	// payload the buyer already saw.
	if existing, err := s.store.FindPendingPaymentByPurchase(ctx, pur.ID, in.Provider); err == nil {
		return s.buildCharge(pur, existing, in.Description)
	} else if !errors.Is(err, purchase.ErrPaymentNotFound) {
		return nil, err
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = mintTxRef(pur.ID)
	}

	pmt := &purchase.Payment{
		ID:                uuid.New(),
		PurchaseID:        pur.ID,
		Provider:          in.Provider,
		ProviderPaymentID: correlationID,
		Status:            purchase.PaymentPending,
		AmountCents:       pur.AmountCents,
		Currency:          pur.Currency,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, pmt); err != nil {
		if errors.Is(err, purchase.ErrDuplicatePayment) {
			// Another request won the insert race; the unique constraint
			// on (provider, correlation id) did its job. Use theirs.
			if existing, ferr := s.store.FindPaymentByProviderCorrelation(ctx, in.Provider, correlationID); ferr == nil {
				return s.buildCharge(pur, existing, in.Description)
			}
		}
		return nil, err
	}

	log.Printf("[Charge] created payment %s (%s/%s) for purchase %s",
		pmt.ID, pmt.Provider, pmt.ProviderPaymentID, pur.ID)

	return s.buildCharge(pur, pmt, in.Description)
}

func (s *Service) resolvePurchase(ctx context.Context, in Input) (*purchase.Purchase, error) {
	if in.PurchaseID != uuid.Nil {
		pur, err := s.store.FindPurchase(ctx, in.PurchaseID)
		if err != nil {
			return nil, err
		}
		switch pur.Status {
		case purchase.PurchasePending:
			return pur, nil
		case purchase.PurchasePaid:
			return nil, ErrAlreadyPaid
		default:
			return nil, ErrNotPending
		}
	}

	pur := &purchase.Purchase{
		ID:          uuid.New(),
		BuyerID:     in.BuyerID,
		ContentID:   in.ContentID,
		AmountCents: in.AmountCents,
		Currency:    strings.ToUpper(in.Currency),
		Status:      purchase.PurchasePending,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreatePurchase(ctx, pur); err != nil {
		return nil, err
	}
	return pur, nil
}

func (s *Service) buildCharge(pur *purchase.Purchase, pmt *purchase.Payment, description *string) (*Charge, error) {
	ch := &Charge{Purchase: pur, Payment: pmt}

	// Direct PIX charges (our own minted reference) carry a locally
	// encoded QR; provider-hosted charges bring their own from the
	// provider's API.
	if strings.HasPrefix(pmt.ProviderPaymentID, txRefPrefix) {
		qr, err := pix.Encode(
			s.merchant.PixKey, s.merchant.Name, s.merchant.City,
			pur.AmountCents, pmt.ProviderPaymentID, description)
		if err != nil {
			return nil, fmt.Errorf("encode pix qr: %w", err)
		}
		ch.QR = qr
	}
	return ch, nil
}

const txRefPrefix = "CV"

// mintTxRef derives a deterministic, bank-safe transaction reference from
// the purchase id: alphanumeric, at most 25 characters.
func mintTxRef(purchaseID uuid.UUID) string {
	hex := strings.ReplaceAll(purchaseID.String(), "-", "")
	ref := txRefPrefix + strings.ToUpper(hex)
	if len(ref) > 25 {
		ref = ref[:25]
	}
	return ref
}
