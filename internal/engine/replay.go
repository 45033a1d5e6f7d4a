package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/legasicrypto/borrowing-protocol/internal/event"
	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

// EngineState is the snapshot shape: the full ledger state plus the hash
// chain tip, enough to resume processing without replaying from genesis.
type EngineState struct {
	Sequence        int64                      `json:"sequence"`
	HashTip         [32]byte                   `json:"hash_tip"`
	Initialized     bool                       `json:"initialized"`
	Admin           string                     `json:"admin"`
	OraclePublisher string                     `json:"oracle_publisher"`
	Executor        string                     `json:"executor"`
	MaxJumpBps      int64                      `json:"max_jump_bps"`
	Positions       []*state.Position          `json:"positions"`
	Intents         []*state.LiquidationIntent `json:"intents"`
	Cooldowns       map[string]int64           `json:"cooldowns"`
	Rounds          []*state.PriceRound        `json:"rounds"`
	Policies        []*state.Policy            `json:"policies"`
	Venues          []string                   `json:"venues"`
	PolicyVersion   int64                      `json:"policy_version"`
}

// ExportState captures the engine for a snapshot. Must only be called
// from the engine goroutine.
func (e *Engine) ExportState() *EngineState {
	return &EngineState{
		Sequence:        e.sequence,
		HashTip:         e.hasher.GetPrevHash(),
		Initialized:     e.initialized,
		Admin:           e.admin,
		OraclePublisher: e.oraclePublisher,
		Executor:        e.executor,
		MaxJumpBps:      e.prices.MaxJumpBps(),
		Positions:       e.loans.AllPositions(),
		Intents:         e.liq.AllIntents(),
		Cooldowns:       e.liq.AllCooldowns(),
		Rounds:          e.prices.AllRounds(),
		Policies:        e.policies.AllPolicies(),
		Venues:          e.policies.AllVenues(),
		PolicyVersion:   e.policies.Version(),
	}
}

// RequestSnapshot asks the running engine goroutine for a state export
// and waits for it. Safe to call from any goroutine while Run is
// active; once Run has returned, call ExportState directly instead.
func (e *Engine) RequestSnapshot(ctx context.Context) (*EngineState, error) {
	reply := make(chan *EngineState, 1)
	select {
	case e.snapshotReq <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RestoreState loads a snapshot before the engine starts processing
func (e *Engine) RestoreState(snap *EngineState) {
	e.sequence = snap.Sequence
	e.hasher.Reset(snap.HashTip)
	e.initialized = snap.Initialized
	e.admin = snap.Admin
	e.oraclePublisher = snap.OraclePublisher
	e.executor = snap.Executor

	e.prices = state.NewPriceAdapter(snap.MaxJumpBps)
	for _, round := range snap.Rounds {
		e.prices.SetRound(round)
	}
	for _, pos := range snap.Positions {
		e.loans.SetPosition(pos)
	}
	for _, intent := range snap.Intents {
		e.liq.SetIntent(intent)
	}
	for positionID, start := range snap.Cooldowns {
		e.liq.SetCooldown(positionID, start)
	}
	for _, policy := range snap.Policies {
		e.policies.RestorePolicy(policy)
	}
	for _, venue := range snap.Venues {
		_ = e.policies.AddVenue(venue)
	}
	e.policies.RestoreVersion(snap.PolicyVersion)

	e.risk = NewRiskEvaluator(e.loans, e.liq, e.prices, e.policies, e.valuer)
}

// ApplyEnvelope replays one persisted event into the ledgers. Used on
// startup for the event tail after the latest snapshot. Replay drives
// state through the same book mutators as live processing so versions
// and nonces land identically, then adopts the envelope's hash as the
// chain tip.
func (e *Engine) ApplyEnvelope(env *event.Envelope) error {
	if err := e.applyPayload(env.EventType, env.Payload); err != nil {
		return fmt.Errorf("replay sequence %d (%s): %w", env.Sequence, env.EventType, err)
	}

	e.sequence = env.Sequence + 1
	e.hasher.Reset(env.StateHash)
	e.idempotency.MarkProcessed("replay", env.IdempotencyKey)

	return nil
}

func (e *Engine) applyPayload(eventType event.EventType, payload []byte) error {
	switch eventType {
	case event.EventTypeEngineInitialized:
		var ev event.EngineInitialized
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		e.initialized = true
		e.admin = ev.Admin
		e.oraclePublisher = ev.OraclePublisher
		e.executor = ev.Executor
		e.prices = state.NewPriceAdapter(ev.MaxJumpBps)
		e.risk = NewRiskEvaluator(e.loans, e.liq, e.prices, e.policies, e.valuer)
		return nil

	case event.EventTypePositionOpened:
		var ev event.PositionOpened
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.loans.Open(ev.PositionID, ev.Owner, ev.CollateralRef, ev.Asset, ev.Timestamp)
		return err

	case event.EventTypeDrewDown:
		var ev event.DrewDown
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.loans.Draw(ev.PositionID, ev.Amount, ev.OracleRound, ev.LTVBps)
		return err

	case event.EventTypeRepaid:
		var ev event.Repaid
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, _, _, err := e.loans.Repay(ev.PositionID, ev.Amount)
		return err

	case event.EventTypeInterestAccrued:
		var ev event.InterestAccrued
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.loans.AccrueInterest(ev.PositionID, ev.Delta)
		return err

	case event.EventTypeLiquidationApplied:
		var ev event.LiquidationApplied
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.loans.ApplyLiquidation(ev.PositionID, ev.Proceeds, ev.OracleRound, ev.ReceiptNonce)
		return err

	case event.EventTypePositionClosed:
		var ev event.PositionClosed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		// When the log also carries the LiquidationApplied that closed
		// the position, the close is already in effect.
		if pos, err := e.loans.Get(ev.PositionID); err == nil && pos.Status == state.PositionStatusClosed {
			return nil
		}
		_, err := e.loans.Close(ev.PositionID)
		return err

	case event.EventTypeCollateralRestated:
		var ev event.CollateralRestated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.loans.RestateCollateral(ev.PositionID, ev.CollateralRef, ev.LTVBps)
		return err

	case event.EventTypeIntentEmitted:
		var ev event.IntentEmitted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return e.liq.EmitIntent(&state.LiquidationIntent{
			ID:            ev.IntentID,
			PositionID:    ev.PositionID,
			Notional:      ev.Notional,
			MinOut:        ev.MinOut,
			SlippageBps:   ev.SlippageBps,
			Deadline:      ev.Deadline,
			Nonce:         ev.Nonce,
			PolicyVersion: ev.PolicyVersion,
			OracleRound:   ev.OracleRound,
			VenueHash:     ev.VenueHash,
			CreatedAt:     ev.Timestamp,
		})

	case event.EventTypeReceiptAccepted:
		var ev event.ReceiptAccepted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		intent, err := e.liq.GetIntent(ev.IntentID)
		if err != nil {
			return err
		}
		intent.Status = state.IntentStatusAccepted
		return nil

	case event.EventTypeCooldownStarted:
		var ev event.CooldownStarted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		e.liq.SetCooldown(ev.PositionID, ev.StartedAt)
		return nil

	case event.EventTypeIntentCancelled:
		var ev event.IntentCancelled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.liq.CancelIntent(ev.IntentID)
		return err

	case event.EventTypePriceUpdated:
		var ev event.PriceUpdated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		e.prices.SetRound(&state.PriceRound{
			Asset:     ev.Asset,
			Price:     ev.Price,
			Round:     ev.Round,
			Source:    ev.Source,
			UpdatedAt: ev.Timestamp,
		})
		return nil

	case event.EventTypePolicyUpdated:
		var ev event.PolicyUpdated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		e.policies.RestorePolicy(&state.Policy{
			Asset:               ev.Asset,
			MaxLTVBps:           ev.MaxLTVBps,
			LiquidationBandsBps: ev.LiquidationBandsBps,
			SliceBps:            ev.SliceBps,
			CooldownSecs:        ev.CooldownSecs,
			MaxSlippageBps:      ev.MaxSlippageBps,
			StalenessSecs:       ev.StalenessSecs,
			BaseRateBps:         ev.BaseRateBps,
			SpreadBps:           ev.SpreadBps,
			Allowed:             ev.Allowed,
			CircuitBreaker:      ev.CircuitBreaker,
		})
		e.policies.RestoreVersion(ev.Version)
		return nil

	case event.EventTypeCircuitBreakerToggled:
		var ev event.CircuitBreakerToggled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		_, err := e.policies.ToggleCircuitBreaker(ev.Asset, ev.Enabled)
		return err

	case event.EventTypeVenueAdded:
		var ev event.VenueAdded
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return e.policies.AddVenue(ev.VenueHash)

	case event.EventTypeVenueRemoved:
		var ev event.VenueRemoved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		e.policies.RemoveVenue(ev.VenueHash)
		return nil

	default:
		return fmt.Errorf("unknown event type %d", eventType)
	}
}
