// Package oplog is the operational failure sink. Anything that needs a
// human later (failed deliveries, rejected webhooks) gets a structured row
// here; nothing in this package ever propagates an error to its caller.
package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
)

// Sink accepts structured failure records.
type Sink interface {
	LogFailure(ctx context.Context, kind, message string, meta map[string]any)
}

// Store writes failure records to the system_logs table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LogFailure inserts one record. Errors are logged locally: a broken log
// store must never take the webhook path down with it.
func (s *Store) LogFailure(ctx context.Context, kind, message string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		log.Printf("[OpLog] marshal metadata for %s failed: %v", kind, err)
		payload = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_logs (type, level, message, metadata, created_at)
		VALUES ($1, 'error', $2, $3, NOW())`,
		kind, message, payload)
	if err != nil {
		log.Printf("[OpLog] insert %s failed: %v (message was: %s)", kind, err, message)
	}
}
