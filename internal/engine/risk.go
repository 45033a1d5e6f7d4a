package engine

import (
	"fmt"

	"github.com/legasicrypto/borrowing-protocol/internal/gate"
	riskmath "github.com/legasicrypto/borrowing-protocol/internal/math"
	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

// RiskLevel classifies a position against its asset policy
type RiskLevel int

const (
	RiskHealthy RiskLevel = iota
	RiskAtRisk
	RiskLiquidatable
)

func (r RiskLevel) String() string {
	switch r {
	case RiskHealthy:
		return "Healthy"
	case RiskAtRisk:
		return "AtRisk"
	case RiskLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// Assessment is one live valuation of a position
type Assessment struct {
	PositionID      string    `json:"position_id"`
	Asset           string    `json:"asset"`
	Debt            int64     `json:"debt"`
	CollateralUnits int64     `json:"collateral_units"`
	CollateralValue int64     `json:"collateral_value"`
	LTVBps          int64     `json:"ltv_bps"`
	MaxLTVBps       int64     `json:"max_ltv_bps"`
	Band            int       `json:"band"`
	Level           RiskLevel `json:"level"`
	OracleRound     int64     `json:"oracle_round"`
	PolicyVersion   int64     `json:"policy_version"`
}

// RiskEvaluator values positions against fresh oracle rounds and the
// asset policy, and composes liquidation intents for unhealthy ones. It
// holds no state of its own.
type RiskEvaluator struct {
	loans    *state.LoanBook
	liq      *state.LiquidationBook
	prices   *state.PriceAdapter
	policies *state.PolicyRegistry
	valuer   gate.CollateralValuer
}

func NewRiskEvaluator(
	loans *state.LoanBook,
	liq *state.LiquidationBook,
	prices *state.PriceAdapter,
	policies *state.PolicyRegistry,
	valuer gate.CollateralValuer,
) *RiskEvaluator {
	return &RiskEvaluator{
		loans:    loans,
		liq:      liq,
		prices:   prices,
		policies: policies,
		valuer:   valuer,
	}
}

// Evaluate prices the position's collateral at the freshest accepted
// round and places its live LTV in the policy's liquidation bands.
// A stale or missing price fails rather than valuing against old data.
func (r *RiskEvaluator) Evaluate(positionID string, now int64) (*Assessment, error) {
	pos, err := r.loans.Get(positionID)
	if err != nil {
		return nil, err
	}
	policy, err := r.policies.GetPolicy(pos.Asset)
	if err != nil {
		return nil, err
	}
	round, err := r.prices.GetPriceIfFresh(pos.Asset, policy.StalenessSecs, now)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", pos.Asset, err)
	}
	units, err := r.valuer.Units(pos.CollateralRef)
	if err != nil {
		return nil, err
	}

	debt := pos.TotalDebt()
	collateralValue := riskmath.ComputeCollateralValue(units, round.Price, riskmath.PriceConfig.Scale)
	ltv := riskmath.ComputeLTVBps(debt, collateralValue)

	assessment := &Assessment{
		PositionID:      pos.ID,
		Asset:           pos.Asset,
		Debt:            debt,
		CollateralUnits: units,
		CollateralValue: collateralValue,
		LTVBps:          ltv,
		MaxLTVBps:       policy.MaxLTVBps,
		Band:            bandOf(ltv, policy),
		OracleRound:     round.Round,
		PolicyVersion:   r.policies.Version(),
	}

	switch {
	case assessment.Band > 0:
		assessment.Level = RiskLiquidatable
	case ltv > policy.MaxLTVBps:
		assessment.Level = RiskAtRisk
	default:
		assessment.Level = RiskHealthy
	}

	return assessment, nil
}

// bandOf returns the highest liquidation band the LTV has crossed,
// 1-indexed; 0 means no band crossed.
func bandOf(ltvBps int64, policy *state.Policy) int {
	band := 0
	for i, threshold := range policy.LiquidationBandsBps {
		if ltvBps > threshold {
			band = i + 1
		}
	}
	return band
}

// ComposeIntent builds a guarded liquidation intent for an unhealthy
// position. The caller assigns the intent id and records it.
func (r *RiskEvaluator) ComposeIntent(positionID, venueHash string, now int64) (*state.LiquidationIntent, error) {
	pos, err := r.loans.Get(positionID)
	if err != nil {
		return nil, err
	}
	policy, err := r.policies.GetPolicy(pos.Asset)
	if err != nil {
		return nil, err
	}
	if policy.CircuitBreaker {
		return nil, fmt.Errorf("%w: circuit breaker engaged for %s", state.ErrInvalidState, pos.Asset)
	}
	if !r.policies.IsVenueAllowed(venueHash) {
		return nil, fmt.Errorf("%w: venue %s is not allow-listed", state.ErrUnauthorized, venueHash)
	}
	if r.liq.IsInCooldown(positionID, policy.CooldownSecs, now) {
		return nil, fmt.Errorf("%w: position %s is in liquidation cooldown", state.ErrInvalidState, positionID)
	}
	if open := r.openIntentFor(positionID, now); open != nil {
		return nil, fmt.Errorf("%w: intent %s already open for position %s", state.ErrInvalidState, open.ID, positionID)
	}

	assessment, err := r.Evaluate(positionID, now)
	if err != nil {
		return nil, err
	}
	if assessment.Level != RiskLiquidatable {
		return nil, fmt.Errorf("%w: position %s is %s at %d bps", state.ErrInvalidState, positionID, assessment.Level, assessment.LTVBps)
	}

	notional := riskmath.SliceAmount(assessment.Debt, policy.SliceBps)
	if notional <= 0 {
		return nil, fmt.Errorf("%w: zero-notional slice for position %s", state.ErrInvalidAmount, positionID)
	}

	return &state.LiquidationIntent{
		PositionID:    positionID,
		Notional:      notional,
		MinOut:        riskmath.ApplySlippageFloor(notional, policy.MaxSlippageBps),
		SlippageBps:   policy.MaxSlippageBps,
		Deadline:      now + policy.StalenessSecs,
		Nonce:         pos.Nonce + 1,
		PolicyVersion: assessment.PolicyVersion,
		OracleRound:   assessment.OracleRound,
		VenueHash:     venueHash,
		CreatedAt:     now,
	}, nil
}

func (r *RiskEvaluator) openIntentFor(positionID string, now int64) *state.LiquidationIntent {
	for _, intent := range r.liq.AllIntents() {
		if intent.PositionID != positionID {
			continue
		}
		if state.EffectiveStatus(intent, now) == state.IntentStatusOpen {
			return intent
		}
	}
	return nil
}
