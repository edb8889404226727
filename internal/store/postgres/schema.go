package postgres

import (
	"context"
	"database/sql"
)

// InitSchema creates the tables this engine owns. The unique constraint on
// (provider, provider_payment_id) is load-bearing: it is what prevents two
// racing charge-creation paths from producing duplicate payment rows for
// one provider charge.
func InitSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS purchases (
			id                UUID PRIMARY KEY,
			buyer_id          UUID,
			content_id        UUID NOT NULL,
			amount_cents      BIGINT NOT NULL,
			currency          CHAR(3) NOT NULL,
			status            VARCHAR(16) NOT NULL,
			provider_ref      VARCHAR(128),
			metadata          JSONB NOT NULL DEFAULT '{}',
			access_expires_at TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_status ON purchases (status)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id                  UUID PRIMARY KEY,
			purchase_id         UUID NOT NULL REFERENCES purchases (id),
			provider            VARCHAR(32) NOT NULL,
			provider_payment_id VARCHAR(128) NOT NULL,
			status              VARCHAR(16) NOT NULL,
			native_status       VARCHAR(64) NOT NULL DEFAULT '',
			amount_cents        BIGINT NOT NULL,
			currency            CHAR(3) NOT NULL,
			failure_code        VARCHAR(64),
			failure_message     TEXT,
			refund_id           VARCHAR(128),
			refund_amount_cents BIGINT,
			refund_reason       TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at        TIMESTAMPTZ,
			refunded_at         TIMESTAMPTZ,
			UNIQUE (provider, provider_payment_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_purchase ON payments (purchase_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status)`,

		`CREATE TABLE IF NOT EXISTS content_sales (
			content_id   UUID PRIMARY KEY,
			weekly_sales BIGINT NOT NULL DEFAULT 0,
			total_sales  BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS system_logs (
			id         BIGSERIAL PRIMARY KEY,
			type       VARCHAR(64) NOT NULL,
			level      VARCHAR(16) NOT NULL,
			message    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
