package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a queried entity has no read-model row.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables.
// All responses include as_of_sequence for freshness semantics:
// the projection watermark at the time the query was served.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPosition returns a single loan position by id.
func (qs *QueryService) GetPosition(ctx context.Context, positionID string) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PositionResponse
	var lastRound, cooldownStart sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT position_id, owner, asset, collateral_ref, principal, interest,
		       status, nonce, ltv_bps, last_oracle_round, cooldown_started_at, opened_at
		FROM projections.positions
		WHERE position_id = $1
	`, positionID).Scan(
		&p.PositionID, &p.Owner, &p.Asset, &p.CollateralRef, &p.Principal, &p.Interest,
		&p.Status, &p.Nonce, &p.LTVBps, &lastRound, &cooldownStart, &p.OpenedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.LastOracleRound = lastRound.Int64
	p.CooldownStartedAt = cooldownStart.Int64
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetDebt returns the principal/interest breakdown for a position.
// Unknown positions report zero debt rather than an error.
func (qs *QueryService) GetDebt(ctx context.Context, positionID string) (*DebtResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &DebtResponse{PositionID: positionID, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT principal, interest FROM projections.positions WHERE position_id = $1
	`, positionID).Scan(&resp.Principal, &resp.Interest)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	resp.TotalDebt = resp.Principal + resp.Interest
	return resp, nil
}

// GetIntent returns a liquidation intent by id.
func (qs *QueryService) GetIntent(ctx context.Context, intentID string) (*IntentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var in IntentResponse
	var proceeds, execRound sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT intent_id, position_id, notional, min_out, slippage_bps, deadline,
		       nonce, policy_version, oracle_round, venue_hash, status,
		       proceeds, executed_oracle_round, created_at
		FROM projections.intents
		WHERE intent_id = $1
	`, intentID).Scan(
		&in.IntentID, &in.PositionID, &in.Notional, &in.MinOut, &in.SlippageBps, &in.Deadline,
		&in.Nonce, &in.PolicyVersion, &in.OracleRound, &in.VenueHash, &in.Status,
		&proceeds, &execRound, &in.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	in.Proceeds = proceeds.Int64
	in.ExecutedOracleRound = execRound.Int64
	in.AsOfSequence = asOfSeq
	return &in, nil
}

// GetIntentsForPosition returns all intents emitted against a position,
// newest first.
func (qs *QueryService) GetIntentsForPosition(ctx context.Context, positionID string, limit int) ([]IntentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT intent_id, position_id, notional, min_out, slippage_bps, deadline,
		       nonce, policy_version, oracle_round, venue_hash, status,
		       proceeds, executed_oracle_round, created_at
		FROM projections.intents
		WHERE position_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, positionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []IntentResponse
	for rows.Next() {
		var in IntentResponse
		var proceeds, execRound sql.NullInt64
		if err := rows.Scan(
			&in.IntentID, &in.PositionID, &in.Notional, &in.MinOut, &in.SlippageBps, &in.Deadline,
			&in.Nonce, &in.PolicyVersion, &in.OracleRound, &in.VenueHash, &in.Status,
			&proceeds, &execRound, &in.CreatedAt,
		); err != nil {
			return nil, err
		}
		in.Proceeds = proceeds.Int64
		in.ExecutedOracleRound = execRound.Int64
		in.AsOfSequence = asOfSeq
		intents = append(intents, in)
	}

	return intents, rows.Err()
}

// GetPrice returns the latest accepted oracle round for an asset.
func (qs *QueryService) GetPrice(ctx context.Context, asset string) (*PriceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PriceResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT asset, round, price, source, published_at
		FROM projections.price_rounds
		WHERE asset = $1
	`, asset).Scan(&p.Asset, &p.Round, &p.Price, &p.Source, &p.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetPolicy returns the active policy bundle for an asset.
func (qs *QueryService) GetPolicy(ctx context.Context, asset string) (*PolicyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PolicyResponse
	var bandsRaw []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT asset, max_ltv_bps, liquidation_bands_bps, slice_bps, cooldown_secs,
		       max_slippage_bps, staleness_secs, base_rate_bps, spread_bps,
		       allowed, circuit_breaker, version
		FROM projections.policies
		WHERE asset = $1
	`, asset).Scan(
		&p.Asset, &p.MaxLTVBps, &bandsRaw, &p.SliceBps, &p.CooldownSecs,
		&p.MaxSlippageBps, &p.StalenessSecs, &p.BaseRateBps, &p.SpreadBps,
		&p.Allowed, &p.CircuitBreaker, &p.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.LiquidationBandsBps, err = marshalBands(bandsRaw); err != nil {
		return nil, err
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetPolicyVersion returns the global monotonic policy version: the
// highest version stamped across all per-asset bundles.
func (qs *QueryService) GetPolicyVersion(ctx context.Context) (*PolicyVersionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var version sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM projections.policies
	`).Scan(&version)
	if err != nil {
		return nil, err
	}
	return &PolicyVersionResponse{Version: version.Int64, AsOfSequence: asOfSeq}, nil
}

// ListVenues returns the execution venue allow-list.
func (qs *QueryService) ListVenues(ctx context.Context) ([]VenueResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT venue_hash, added_at FROM projections.venues ORDER BY added_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var venues []VenueResponse
	for rows.Next() {
		var v VenueResponse
		if err := rows.Scan(&v.VenueHash, &v.AddedAt); err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// GetLiquidationHistory returns applied receipts for a position with
// cursor-based pagination on sequence.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	positionID string,
	limit int,
	beforeSequence *int64,
) ([]LiquidationHistoryEntry, error) {
	query := `
		SELECT sequence, position_id, proceeds, oracle_round, receipt_nonce, executed_at
		FROM projections.liquidation_history
		WHERE position_id = $1
	`
	args := []interface{}{positionID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LiquidationHistoryEntry
	for rows.Next() {
		var e LiquidationHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.PositionID, &e.Proceeds, &e.OracleRound, &e.ReceiptNonce, &e.ExecutedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the state hash chain in the event log: every
// event's prev_hash must equal the previous event's state_hash.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM risk_log.events e1
		LEFT JOIN risk_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM risk_log.events
	`).Scan(&last); err != nil {
		return nil, err
	}
	report.LastSequence = last.Int64
	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
