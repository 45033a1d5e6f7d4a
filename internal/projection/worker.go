package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/legasicrypto/borrowing-protocol/internal/event"
	"github.com/legasicrypto/borrowing-protocol/internal/observability"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between engine.Output and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType event.EventType
	Asset     *string
	Payload   []byte
	Timestamp int64
}

// ProjectionWorker updates read-model tables from processed events.
// The projection channel is non-blocking with drop; if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be
				// rebuilt from the event log, so failures are non-fatal.
				pw.log.Warn().
					Err(err).
					Int64("sequence", output.Sequence).
					Str("event_type", output.EventType.String()).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := pw.applyEvent(ctx, tx, output); err != nil {
		return fmt.Errorf("%s projection: %w", output.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) applyEvent(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.EventType {
	case event.EventTypePositionOpened:
		var e event.PositionOpened
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(position_id, owner, asset, collateral_ref, principal, interest,
				 status, nonce, ltv_bps, opened_at, last_sequence)
			VALUES ($1, $2, $3, $4, 0, 0, 'Open', 0, 0, $5, $6)
			ON CONFLICT (position_id) DO NOTHING
		`, e.PositionID, e.Owner, e.Asset, e.CollateralRef, e.Timestamp, output.Sequence); err != nil {
			return err
		}
		if pw.metrics != nil {
			pw.metrics.PositionsByStatus.WithLabelValues("open").Inc()
		}

	case event.EventTypeDrewDown:
		var e event.DrewDown
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET principal = $2, ltv_bps = $3, last_oracle_round = $4, last_sequence = $5
			WHERE position_id = $1
		`, e.PositionID, e.Principal, e.LTVBps, e.OracleRound, output.Sequence)
		return err

	case event.EventTypeRepaid:
		var e event.Repaid
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		return pw.updateDebt(ctx, tx, e.PositionID, e.Principal, e.Interest, e.Status, output.Sequence)

	case event.EventTypeInterestAccrued:
		var e event.InterestAccrued
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET interest = $2, last_sequence = $3
			WHERE position_id = $1
		`, e.PositionID, e.Interest, output.Sequence)
		return err

	case event.EventTypeLiquidationApplied:
		var e event.LiquidationApplied
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history
				(sequence, position_id, proceeds, oracle_round, receipt_nonce, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, e.PositionID, e.Proceeds, e.OracleRound, e.ReceiptNonce, e.Timestamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET nonce = nonce + $4, last_sequence = $5, last_oracle_round = $6,
			    principal = $2, interest = $3
			WHERE position_id = $1
		`, e.PositionID, e.Principal, e.Interest, e.ReceiptNonce, output.Sequence, e.OracleRound); err != nil {
			return err
		}
		return pw.setStatus(ctx, tx, e.PositionID, e.Status, output.Sequence)

	case event.EventTypePositionClosed:
		var e event.PositionClosed
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		return pw.setStatus(ctx, tx, e.PositionID, "Closed", output.Sequence)

	case event.EventTypeCollateralRestated:
		var e event.CollateralRestated
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET collateral_ref = $2, ltv_bps = $3, last_sequence = $4
			WHERE position_id = $1
		`, e.PositionID, e.CollateralRef, e.LTVBps, output.Sequence)
		return err

	case event.EventTypeIntentEmitted:
		var e event.IntentEmitted
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.intents
				(intent_id, position_id, notional, min_out, slippage_bps, deadline,
				 nonce, policy_version, oracle_round, venue_hash, status, created_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'Open', $11, $12)
			ON CONFLICT (intent_id) DO NOTHING
		`, e.IntentID, e.PositionID, e.Notional, e.MinOut, e.SlippageBps, e.Deadline,
			e.Nonce, e.PolicyVersion, e.OracleRound, e.VenueHash, e.Timestamp, output.Sequence)
		return err

	case event.EventTypeReceiptAccepted:
		var e event.ReceiptAccepted
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.intents
			SET status = 'Accepted', proceeds = $2, executed_oracle_round = $3, last_sequence = $4
			WHERE intent_id = $1
		`, e.IntentID, e.Proceeds, e.ExecutedOracleRound, output.Sequence)
		return err

	case event.EventTypeCooldownStarted:
		var e event.CooldownStarted
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET cooldown_started_at = $2, last_sequence = $3
			WHERE position_id = $1
		`, e.PositionID, e.StartedAt, output.Sequence)
		return err

	case event.EventTypeIntentCancelled:
		var e event.IntentCancelled
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.intents
			SET status = 'Cancelled', last_sequence = $2
			WHERE intent_id = $1
		`, e.IntentID, output.Sequence)
		return err

	case event.EventTypePriceUpdated:
		var e event.PriceUpdated
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.price_rounds (asset, round, price, source, published_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (asset) DO UPDATE
				SET round = $2, price = $3, source = $4, published_at = $5, last_sequence = $6
		`, e.Asset, e.Round, e.Price, e.Source, e.Timestamp, output.Sequence)
		return err

	case event.EventTypePolicyUpdated:
		var e event.PolicyUpdated
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		bands, err := json.Marshal(e.LiquidationBandsBps)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.policies
				(asset, max_ltv_bps, liquidation_bands_bps, slice_bps, cooldown_secs,
				 max_slippage_bps, staleness_secs, base_rate_bps, spread_bps,
				 allowed, circuit_breaker, version, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (asset) DO UPDATE SET
				max_ltv_bps = $2, liquidation_bands_bps = $3, slice_bps = $4,
				cooldown_secs = $5, max_slippage_bps = $6, staleness_secs = $7,
				base_rate_bps = $8, spread_bps = $9, allowed = $10,
				circuit_breaker = $11, version = $12, last_sequence = $13
		`, e.Asset, e.MaxLTVBps, bands, e.SliceBps, e.CooldownSecs,
			e.MaxSlippageBps, e.StalenessSecs, e.BaseRateBps, e.SpreadBps,
			e.Allowed, e.CircuitBreaker, e.Version, output.Sequence)
		return err

	case event.EventTypeCircuitBreakerToggled:
		var e event.CircuitBreakerToggled
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.policies
			SET circuit_breaker = $2, last_sequence = $3
			WHERE asset = $1
		`, e.Asset, e.Enabled, output.Sequence)
		return err

	case event.EventTypeVenueAdded:
		var e event.VenueAdded
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.venues (venue_hash, added_at, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (venue_hash) DO NOTHING
		`, e.VenueHash, e.Timestamp, output.Sequence)
		return err

	case event.EventTypeVenueRemoved:
		var e event.VenueRemoved
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.venues WHERE venue_hash = $1
		`, e.VenueHash)
		return err
	}

	// EngineInitialized and unrecognized events carry no read-model rows.
	return nil
}

func (pw *ProjectionWorker) updateDebt(ctx context.Context, tx *sql.Tx, positionID string, principal, interest int64, status string, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions
		SET principal = $2, interest = $3, last_sequence = $4
		WHERE position_id = $1
	`, positionID, principal, interest, seq); err != nil {
		return err
	}
	return pw.setStatus(ctx, tx, positionID, status, seq)
}

func (pw *ProjectionWorker) setStatus(ctx context.Context, tx *sql.Tx, positionID, status string, seq int64) error {
	var prev string
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM projections.positions WHERE position_id = $1
	`, positionID).Scan(&prev)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if prev == status {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions
		SET status = $2, last_sequence = $3
		WHERE position_id = $1
	`, positionID, status, seq); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PositionsByStatus.WithLabelValues(statusLabel(prev)).Dec()
		pw.metrics.PositionsByStatus.WithLabelValues(statusLabel(status)).Inc()
	}
	return nil
}

func statusLabel(status string) string {
	switch status {
	case "Open":
		return "open"
	case "Closable":
		return "closable"
	case "InLiquidationCooldown":
		return "cooldown"
	case "Closed":
		return "closed"
	default:
		return "unknown"
	}
}

// RebuildProjections rebuilds all read-model tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, metrics *observability.Metrics) error {
	log := observability.NewLogger("projection")

	truncateStatements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.intents`,
		`TRUNCATE projections.price_rounds`,
		`TRUNCATE projections.policies`,
		`TRUNCATE projections.venues`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, asset, payload, occurred_at
		FROM risk_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return fmt.Errorf("load event log: %w", err)
	}
	defer rows.Close()

	// Replays through the same per-event handlers the live worker uses.
	pw := &ProjectionWorker{db: db, metrics: metrics, log: log}
	var rebuilt int64
	for rows.Next() {
		var output ProjectionOutput
		var eventType string
		if err := rows.Scan(&output.Sequence, &eventType, &output.Asset, &output.Payload, &output.Timestamp); err != nil {
			return err
		}
		output.EventType = event.EventTypeFromString(eventType)
		if err := pw.processOutput(ctx, output); err != nil {
			return fmt.Errorf("rebuild at seq=%d: %w", output.Sequence, err)
		}
		pw.lastSeq = output.Sequence
		rebuilt++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	log.Info().Int64("events", rebuilt).Msg("projection rebuild complete")
	return nil
}
