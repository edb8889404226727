package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
)

// Store implements purchase.Store on PostgreSQL. All mutations are
// conditional single-row updates keyed by primary/unique key; the only
// multi-row unit is the payment+purchase transition, wrapped in one
// transaction.
type Store struct {
	db *sql.DB

	// accessWindow is stamped on access_expires_at when a purchase turns
	// paid.
	accessWindow time.Duration
}

func NewStore(db *sql.DB, accessWindow time.Duration) *Store {
	return &Store{db: db, accessWindow: accessWindow}
}

func (s *Store) CreatePurchase(ctx context.Context, p *purchase.Purchase) error {
	meta, err := json.Marshal(metaOrEmpty(p.Metadata))
	if err != nil {
		return fmt.Errorf("db: marshal purchase metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, buyer_id, content_id, amount_cents, currency, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		p.ID, p.BuyerID, p.ContentID, p.AmountCents, p.Currency, p.Status, meta,
	)
	if err != nil {
		return fmt.Errorf("db: create purchase: %w", err)
	}
	return nil
}

func (s *Store) FindPurchase(ctx context.Context, id uuid.UUID) (*purchase.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, content_id, amount_cents, currency, status, provider_ref,
		       metadata, access_expires_at, created_at, updated_at
		FROM purchases WHERE id = $1`, id)

	var p purchase.Purchase
	var meta []byte
	err := row.Scan(&p.ID, &p.BuyerID, &p.ContentID, &p.AmountCents, &p.Currency,
		&p.Status, &p.ProviderRef, &meta, &p.AccessExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, purchase.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: find purchase: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("db: decode purchase metadata: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) SetAccessExpiry(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE purchases SET access_expires_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("db: set access expiry: %w", err)
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p *purchase.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, purchase_id, provider, provider_payment_id, status,
		                      native_status, amount_cents, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		p.ID, p.PurchaseID, p.Provider, p.ProviderPaymentID, p.Status,
		p.NativeStatus, p.AmountCents, p.Currency,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return purchase.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("db: create payment: %w", err)
	}
	return nil
}

func (s *Store) FindPaymentByProviderCorrelation(ctx context.Context, prov purchase.Provider, correlationID string) (*purchase.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, purchase_id, provider, provider_payment_id, status, native_status,
		       amount_cents, currency, failure_code, failure_message,
		       refund_id, refund_amount_cents, refund_reason,
		       created_at, processed_at, refunded_at
		FROM payments WHERE provider = $1 AND provider_payment_id = $2`,
		prov, correlationID)
	return scanPayment(row)
}

func (s *Store) FindPendingPaymentByPurchase(ctx context.Context, purchaseID uuid.UUID, prov purchase.Provider) (*purchase.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, purchase_id, provider, provider_payment_id, status, native_status,
		       amount_cents, currency, failure_code, failure_message,
		       refund_id, refund_amount_cents, refund_reason,
		       created_at, processed_at, refunded_at
		FROM payments
		WHERE purchase_id = $1 AND provider = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		purchaseID, prov, purchase.PaymentPending)
	return scanPayment(row)
}

func (s *Store) UpdateNativeStatus(ctx context.Context, paymentID uuid.UUID, native string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments SET native_status = $1 WHERE id = $2 AND native_status <> $1`,
		native, paymentID)
	if err != nil {
		return fmt.Errorf("db: update native status: %w", err)
	}
	return nil
}

func (s *Store) RecordRefundDetails(ctx context.Context, paymentID uuid.UUID, refundID string, amountCents int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET refund_id = NULLIF($1, ''),
		    refund_amount_cents = NULLIF($2, 0),
		    refund_reason = NULLIF($3, '')
		WHERE id = $4`,
		refundID, amountCents, reason, paymentID)
	if err != nil {
		return fmt.Errorf("db: record refund details: %w", err)
	}
	return nil
}

func (s *Store) RecordFailureDetails(ctx context.Context, paymentID uuid.UUID, code, message *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments SET failure_code = $1, failure_message = $2 WHERE id = $3`,
		code, message, paymentID)
	if err != nil {
		return fmt.Errorf("db: record failure details: %w", err)
	}
	return nil
}

func (s *Store) GetStuckPending(ctx context.Context, limit int, olderThan time.Duration) ([]*purchase.Payment, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_id, provider, provider_payment_id, status, native_status,
		       amount_cents, currency, failure_code, failure_message,
		       refund_id, refund_amount_cents, refund_reason,
		       created_at, processed_at, refunded_at
		FROM payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		purchase.PaymentPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db: fetch stuck pending payments: %w", err)
	}
	defer rows.Close()

	var out []*purchase.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ConditionalTransition moves the payment and its purchase in one
// transaction. Both conditional updates must hit exactly one row; a zero
// row count on either side means a stale or duplicate notification lost
// the race, and the whole unit rolls back with applied=false.
func (s *Store) ConditionalTransition(
	ctx context.Context,
	paymentID uuid.UUID, expectedStatus, newStatus purchase.PaymentStatus,
	purchaseID uuid.UUID, expectedPurchaseStatus, newPurchaseStatus purchase.PurchaseStatus,
) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("db: begin transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    processed_at = CASE WHEN $1 = 'COMPLETED' THEN NOW() ELSE processed_at END,
		    refunded_at  = CASE WHEN $1 = 'REFUNDED'  THEN NOW() ELSE refunded_at  END
		WHERE id = $2 AND status = $3`,
		newStatus, paymentID, expectedStatus)
	if err != nil {
		return false, fmt.Errorf("db: payment transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE purchases
		SET status = $1,
		    provider_ref = CASE WHEN $1 = 'PAID' THEN (SELECT provider_payment_id FROM payments WHERE id = $4) ELSE provider_ref END,
		    access_expires_at = CASE
		        WHEN $1 = 'PAID'     THEN NOW() + $5::interval
		        WHEN $1 = 'REFUNDED' THEN NOW()
		        ELSE access_expires_at
		    END,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		newPurchaseStatus, purchaseID, expectedPurchaseStatus, paymentID,
		fmt.Sprintf("%d seconds", int64(s.accessWindow.Seconds())))
	if err != nil {
		return false, fmt.Errorf("db: purchase transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Purchase was not in the expected state (e.g. already paid by a
		// different payment). Roll everything back: the payment update
		// above must not survive alone.
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("db: commit transition: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*purchase.Payment, error) {
	var p purchase.Payment
	err := row.Scan(&p.ID, &p.PurchaseID, &p.Provider, &p.ProviderPaymentID,
		&p.Status, &p.NativeStatus, &p.AmountCents, &p.Currency,
		&p.FailureCode, &p.FailureMessage,
		&p.RefundID, &p.RefundAmountCents, &p.RefundReason,
		&p.CreatedAt, &p.ProcessedAt, &p.RefundedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, purchase.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan payment: %w", err)
	}
	return &p, nil
}

func metaOrEmpty(m purchase.Metadata) purchase.Metadata {
	if m == nil {
		return purchase.Metadata{}
	}
	return m
}
