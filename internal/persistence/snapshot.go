package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legasicrypto/borrowing-protocol/internal/event"
)

// SnapshotManager persists point-in-time engine state for warm
// restarts: load the latest verified snapshot, then replay the event
// tail from snapshot sequence forward.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord wraps the engine state blob with storage metadata. The
// Data field is the JSON-encoded engine state; persistence treats it as
// opaque so the engine can evolve its shape behind the format version.
type SnapshotRecord struct {
	Sequence  int64     `json:"sequence"`
	StateHash []byte    `json:"state_hash"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Taken periodically; verified later
// by replaying the tail and comparing hash chain tips.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded engine state

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO risk_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, rec.Sequence, rec.Data, rec.StateHash, formatVersion, len(rec.Data), rec.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, created_at FROM risk_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var rec SnapshotRecord
	if err := row.Scan(&rec.Sequence, &rec.StateHash, &rec.Data, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return &rec, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE risk_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, occurred_at, created_at
		FROM risk_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM risk_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}

// LoadRecentIdempotencyKeys returns the newest composite dedup keys for
// LRU warming after restart. Event types that do not identify a single
// command are skipped; those keys stay on the database tier.
func (sm *SnapshotManager) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM risk_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		cmdType, ok := event.CommandForEvent(event.EventTypeFromString(eventType))
		if !ok {
			continue
		}
		keys = append(keys, cmdType+":"+key)
	}
	return keys, rows.Err()
}

// MarshalSnapshotState JSON-encodes engine state for storage.
func MarshalSnapshotState(state interface{}) ([]byte, error) {
	return json.Marshal(state)
}
