package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
	"github.com/legasicrypto/borrowing-protocol/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDraw(t *testing.T) {
	payload := map[string]interface{}{
		"caller":          "0xowner",
		"idempotency_key": "draw-1",
		"occurred_at":     int64(1700000000),
		"position_id":     "pos-1",
		"amount":          int64(500_000_000),
		"oracle_round":    int64(42),
		"new_ltv_bps":     int64(5500),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Draw")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	draw, ok := cmd.(*command.Draw)
	if !ok {
		t.Fatalf("expected *command.Draw, got %T", cmd)
	}

	if draw.PositionID != "pos-1" {
		t.Errorf("position_id: got %s, want pos-1", draw.PositionID)
	}
	if draw.Amount != 500_000_000 {
		t.Errorf("amount: got %d, want 500_000_000", draw.Amount)
	}
	if draw.OracleRound != 42 {
		t.Errorf("oracle_round: got %d, want 42", draw.OracleRound)
	}
	if draw.NewLTVBps != 5500 {
		t.Errorf("new_ltv_bps: got %d, want 5500", draw.NewLTVBps)
	}
	if draw.Caller() != "0xowner" {
		t.Errorf("caller: got %s, want 0xowner", draw.Caller())
	}
	if draw.IdempotencyKey() != "draw-1" {
		t.Errorf("idempotency key: got %s, want draw-1", draw.IdempotencyKey())
	}
	if draw.OccurredAt() != 1700000000 {
		t.Errorf("occurred_at: got %d, want 1700000000", draw.OccurredAt())
	}
	if draw.CommandType() != command.CommandTypeDraw {
		t.Errorf("command type: got %v, want Draw", draw.CommandType())
	}
}

func TestParseOpenPosition(t *testing.T) {
	payload := map[string]interface{}{
		"caller":          "0xowner",
		"idempotency_key": "open-1",
		"occurred_at":     int64(1700000000),
		"position_id":     "pos-1",
		"collateral_ref":  "vault:abc",
		"asset":           "USDC",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "OpenPosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := cmd.(*command.OpenPosition)
	if !ok {
		t.Fatalf("expected *command.OpenPosition, got %T", cmd)
	}

	if op.CollateralRef != "vault:abc" {
		t.Errorf("collateral_ref: got %s, want vault:abc", op.CollateralRef)
	}
	if op.Asset != "USDC" {
		t.Errorf("asset: got %s, want USDC", op.Asset)
	}
}

func TestParseEmitIntent(t *testing.T) {
	payload := map[string]interface{}{
		"caller":          "0xadmin",
		"idempotency_key": "emit-1",
		"occurred_at":     int64(1700000000),
		"intent_id":       "intent-1",
		"position_id":     "pos-1",
		"notional":        int64(200_000_000),
		"min_out":         int64(196_000_000),
		"slippage_bps":    int64(200),
		"deadline":        int64(1700000300),
		"nonce":           int64(1),
		"policy_version":  int64(3),
		"oracle_round":    int64(42),
		"venue_hash":      "venue-a",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "EmitIntent")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ei, ok := cmd.(*command.EmitIntent)
	if !ok {
		t.Fatalf("expected *command.EmitIntent, got %T", cmd)
	}

	if ei.IntentID != "intent-1" {
		t.Errorf("intent_id: got %s, want intent-1", ei.IntentID)
	}
	if ei.MinOut != 196_000_000 {
		t.Errorf("min_out: got %d, want 196_000_000", ei.MinOut)
	}
	if ei.Deadline != 1700000300 {
		t.Errorf("deadline: got %d, want 1700000300", ei.Deadline)
	}
	if ei.PolicyVersion != 3 {
		t.Errorf("policy_version: got %d, want 3", ei.PolicyVersion)
	}
	if ei.VenueHash != "venue-a" {
		t.Errorf("venue_hash: got %s, want venue-a", ei.VenueHash)
	}
}

func TestParseUpdatePrice(t *testing.T) {
	payload := map[string]interface{}{
		"caller":          "0xoracle",
		"idempotency_key": "px-42",
		"occurred_at":     int64(1700000000),
		"asset":           "USDC",
		"price":           int64(1_000_000),
		"round":           int64(42),
		"source":          "chainlink",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "UpdatePrice")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	up, ok := cmd.(*command.UpdatePrice)
	if !ok {
		t.Fatalf("expected *command.UpdatePrice, got %T", cmd)
	}

	if up.Asset != "USDC" {
		t.Errorf("asset: got %s, want USDC", up.Asset)
	}
	if up.Price != 1_000_000 {
		t.Errorf("price: got %d, want 1_000_000", up.Price)
	}
	if up.Round != 42 {
		t.Errorf("round: got %d, want 42", up.Round)
	}
	if up.Source != "chainlink" {
		t.Errorf("source: got %s, want chainlink", up.Source)
	}
}

func TestParseSetPolicy(t *testing.T) {
	payload := map[string]interface{}{
		"caller":                "0xadmin",
		"idempotency_key":       "policy-1",
		"occurred_at":           int64(1700000000),
		"asset":                 "USDC",
		"max_ltv_bps":           int64(7000),
		"liquidation_bands_bps": []int64{7500, 8500, 9500},
		"slice_bps":             int64(2000),
		"cooldown_secs":         int64(600),
		"max_slippage_bps":      int64(200),
		"staleness_secs":        int64(300),
		"base_rate_bps":         int64(150),
		"spread_bps":            int64(50),
		"allowed":               true,
		"circuit_breaker":       false,
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "SetPolicy")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sp, ok := cmd.(*command.SetPolicy)
	if !ok {
		t.Fatalf("expected *command.SetPolicy, got %T", cmd)
	}

	if sp.MaxLTVBps != 7000 {
		t.Errorf("max_ltv_bps: got %d, want 7000", sp.MaxLTVBps)
	}
	if len(sp.LiquidationBandsBps) != 3 || sp.LiquidationBandsBps[0] != 7500 {
		t.Errorf("liquidation_bands_bps: got %v, want [7500 8500 9500]", sp.LiquidationBandsBps)
	}
	if !sp.Allowed {
		t.Error("allowed: got false, want true")
	}
	if sp.CircuitBreaker {
		t.Error("circuit_breaker: got true, want false")
	}
}

func TestParseMissingCaller_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "draw-1",
		"occurred_at":     int64(1700000000),
		"position_id":     "pos-1",
		"amount":          int64(100),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawCommand(raw, "Draw")
	if err == nil {
		t.Fatal("expected error for missing caller")
	}
}

func TestParseMissingIdempotencyKey_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"caller":      "0xowner",
		"occurred_at": int64(1700000000),
		"position_id": "pos-1",
		"amount":      int64(100),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawCommand(raw, "Repay")
	if err == nil {
		t.Fatal("expected error for missing idempotency_key")
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawCommand(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawCommand(raw, "Draw")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
