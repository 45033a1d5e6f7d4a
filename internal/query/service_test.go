package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func expectWatermark(mock sqlmock.Sqlmock, seq int64) {
	rows := sqlmock.NewRows([]string{"last_sequence"}).AddRow(seq)
	mock.ExpectQuery(`SELECT COALESCE\(last_sequence, 0\) FROM projections.watermark`).
		WillReturnRows(rows)
}

func TestGetPosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectWatermark(mock, 42)
	rows := sqlmock.NewRows([]string{
		"position_id", "owner", "asset", "collateral_ref", "principal", "interest",
		"status", "nonce", "ltv_bps", "last_oracle_round", "cooldown_started_at", "opened_at",
	}).AddRow("pos-1", "owner-1", "USDC", "vault:ref:1", 500_000, 1_200,
		"Open", 0, 5_000, 7, nil, 1_000)
	mock.ExpectQuery(`SELECT position_id, owner, asset`).
		WithArgs("pos-1").
		WillReturnRows(rows)

	qs := NewQueryService(db)
	pos, err := qs.GetPosition(context.Background(), "pos-1")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos.Principal != 500_000 || pos.Interest != 1_200 {
		t.Errorf("unexpected debt fields: %d/%d", pos.Principal, pos.Interest)
	}
	if pos.CooldownStartedAt != 0 {
		t.Errorf("null cooldown must read as zero, got %d", pos.CooldownStartedAt)
	}
	if pos.AsOfSequence != 42 {
		t.Errorf("expected as_of_sequence 42, got %d", pos.AsOfSequence)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetPosition_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectWatermark(mock, 42)
	mock.ExpectQuery(`SELECT position_id, owner, asset`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	qs := NewQueryService(db)
	if _, err := qs.GetPosition(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetDebt_UnknownPosition_Zero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectWatermark(mock, 10)
	mock.ExpectQuery(`SELECT principal, interest FROM projections.positions`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	qs := NewQueryService(db)
	debt, err := qs.GetDebt(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDebt failed: %v", err)
	}
	if debt.TotalDebt != 0 {
		t.Errorf("unknown positions owe nothing, got %d", debt.TotalDebt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetPolicy_DecodesBands(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectWatermark(mock, 5)
	rows := sqlmock.NewRows([]string{
		"asset", "max_ltv_bps", "liquidation_bands_bps", "slice_bps", "cooldown_secs",
		"max_slippage_bps", "staleness_secs", "base_rate_bps", "spread_bps",
		"allowed", "circuit_breaker", "version",
	}).AddRow("USDC", 7_000, []byte(`[8000,9000]`), 2_500, 300, 100, 60, 200, 50, true, false, 3)
	mock.ExpectQuery(`SELECT asset, max_ltv_bps`).
		WithArgs("USDC").
		WillReturnRows(rows)

	qs := NewQueryService(db)
	p, err := qs.GetPolicy(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if len(p.LiquidationBandsBps) != 2 || p.LiquidationBandsBps[1] != 9_000 {
		t.Errorf("bands decoded wrong: %v", p.LiquidationBandsBps)
	}
	if p.Version != 3 {
		t.Errorf("expected version 3, got %d", p.Version)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT e1.sequence`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}))
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM risk_log.events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(99))

	qs := NewQueryService(db)
	report, err := qs.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if !report.IsHealthy {
		t.Error("expected healthy chain")
	}
	if report.LastSequence != 99 {
		t.Errorf("expected last sequence 99, got %d", report.LastSequence)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestVerifyIntegrity_ReportsBreaks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT e1.sequence`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(17).AddRow(18))
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM risk_log.events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(20))

	qs := NewQueryService(db)
	report, err := qs.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if report.IsHealthy {
		t.Error("expected unhealthy chain")
	}
	if len(report.HashChainBreaks) != 2 || report.HashChainBreaks[0] != 17 {
		t.Errorf("unexpected breaks: %v", report.HashChainBreaks)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
