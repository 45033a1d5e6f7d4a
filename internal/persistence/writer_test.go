package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestWriteEventBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	asset := "USDC"
	events := []EventRow{
		{
			Sequence:       1,
			EventID:        "evt-1",
			EventType:      "PositionOpened",
			IdempotencyKey: "open-1",
			Asset:          &asset,
			Payload:        []byte(`{"position_id":"pos-1"}`),
			StateHash:      []byte{0x01},
			PrevHash:       []byte{0x00},
			OccurredAt:     1700000000,
			CreatedAt:      time.Now(),
		},
		{
			Sequence:       2,
			EventID:        "evt-2",
			EventType:      "DrewDown",
			IdempotencyKey: "draw-1",
			Asset:          &asset,
			Payload:        []byte(`{"position_id":"pos-1","amount":100}`),
			StateHash:      []byte{0x02},
			PrevHash:       []byte{0x01},
			OccurredAt:     1700000010,
			CreatedAt:      time.Now(),
		},
	}

	mock.ExpectExec(`INSERT INTO risk_log.events`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	writer := NewEventLogWriter(db, 100, time.Second)
	if err := writer.WriteEventBatch(context.Background(), nil, events); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWriteEventBatch_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	writer := NewEventLogWriter(db, 100, time.Second)
	if err := writer.WriteEventBatch(context.Background(), nil, nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWriteEventBatch_InTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO risk_log.events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	writer := NewEventLogWriter(db, 100, time.Second)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	events := []EventRow{{
		Sequence:       7,
		EventID:        "evt-7",
		EventType:      "PriceUpdated",
		IdempotencyKey: "px-7",
		Payload:        []byte(`{}`),
		StateHash:      []byte{0x07},
		PrevHash:       []byte{0x06},
		OccurredAt:     1700000000,
		CreatedAt:      time.Now(),
	}}
	if err := writer.WriteEventBatch(context.Background(), tx, events); err != nil {
		t.Fatalf("write in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		mockSetup func(mock sqlmock.Sqlmock)
		expected  bool
	}{
		{
			name: "duplicate found",
			key:  "draw-1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"?column?"}).AddRow(1)
				mock.ExpectQuery(`SELECT 1`).
					WithArgs("DrewDown", "draw-1").
					WillReturnRows(rows)
			},
			expected: true,
		},
		{
			name: "not a duplicate",
			key:  "draw-2",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT 1`).
					WithArgs("DrewDown", "draw-2").
					WillReturnError(sql.ErrNoRows)
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			checker := NewPostgresIdempotencyChecker(db)
			dup, err := checker.IsDuplicate("Draw", tt.key)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dup != tt.expected {
				t.Errorf("expected duplicate=%v, got %v", tt.expected, dup)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSnapshotManager_LoadLatestSnapshot_ColdStart(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT sequence, state_hash, data, created_at FROM risk_log.snapshots`).
		WillReturnError(sql.ErrNoRows)

	sm := NewSnapshotManager(db)
	rec, err := sm.LoadLatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record on cold start, got %+v", rec)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSnapshotManager_GetLatestSequence_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"max"}).AddRow(nil)
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM risk_log.events`).
		WillReturnRows(rows)

	sm := NewSnapshotManager(db)
	seq, err := sm.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 0 {
		t.Errorf("expected 0 for empty log, got %d", seq)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
