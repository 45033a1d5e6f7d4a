package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes committed events to Postgres using multi-row
// INSERT batches. ON CONFLICT DO NOTHING keeps replays and retries
// idempotent at the storage layer.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in risk_log.events
type EventRow struct {
	Sequence       int64
	EventID        string
	EventType      string
	IdempotencyKey string
	Asset          *string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	OccurredAt     int64
	CreatedAt      time.Time
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer covers both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch writes a batch of events to risk_log.events using
// multi-row INSERT. Pass a *sql.Tx to make the batch part of a larger
// transaction; pass nil to write directly.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO risk_log.events
		(sequence, event_id, event_type, idempotency_key, asset, payload, state_hash, prev_hash, occurred_at, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*10)

	for i, e := range events {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.IdempotencyKey, e.Asset,
			e.Payload, e.StateHash, e.PrevHash, e.OccurredAt, e.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// DB exposes the underlying handle for transactional callers
func (w *EventLogWriter) DB() *sql.DB {
	return w.db
}
