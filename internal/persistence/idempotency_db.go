package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/legasicrypto/borrowing-protocol/internal/event"
)

// PostgresIdempotencyChecker implements DB-based deduplication against
// the event log. It is the second tier behind the in-memory LRU.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db: db,
	}
}

// IsDuplicate checks if a command with this key already produced events.
// The lookup matches on the first event type the command emits, so the
// same key under a different command type does not collide.
func (pic *PostgresIdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) (bool, error) {
	eventType, ok := event.PrimaryEventType(commandType)
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM risk_log.events
        WHERE event_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType.String(), idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil // Not found - not a duplicate
	}

	if err != nil {
		return false, err // DB error
	}

	return true, nil // Found - is duplicate
}
