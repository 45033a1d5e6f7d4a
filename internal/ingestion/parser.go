package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed command.Command. The ingestion shell validates
// and converts before anything reaches the deterministic engine.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	switch commandType {
	case "Initialize":
		return parseInitialize(raw.Data)
	case "OpenPosition":
		return parseOpenPosition(raw.Data)
	case "Draw":
		return parseDraw(raw.Data)
	case "Repay":
		return parseRepay(raw.Data)
	case "AccrueInterest":
		return parseAccrueInterest(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "RestateCollateral":
		return parseRestateCollateral(raw.Data)
	case "EmitIntent":
		return parseEmitIntent(raw.Data)
	case "ComposeIntent":
		return parseComposeIntent(raw.Data)
	case "AcceptReceipt":
		return parseAcceptReceipt(raw.Data)
	case "CancelIntent":
		return parseCancelIntent(raw.Data)
	case "UpdatePrice":
		return parseUpdatePrice(raw.Data)
	case "SetPolicy":
		return parseSetPolicy(raw.Data)
	case "ToggleCircuitBreaker":
		return parseToggleCircuitBreaker(raw.Data)
	case "AddVenue":
		return parseAddVenue(raw.Data)
	case "RemoveVenue":
		return parseRemoveVenue(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

// metaJSON carries the fields every command envelope must have
type metaJSON struct {
	Caller         string `json:"caller"`
	IdempotencyKey string `json:"idempotency_key"`
	OccurredAt     int64  `json:"occurred_at"`
}

func (m metaJSON) validate() error {
	if m.Caller == "" {
		return fmt.Errorf("caller is required")
	}
	if m.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if m.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be a positive unix timestamp")
	}
	return nil
}

func (m metaJSON) toMeta() command.Meta {
	return command.Meta{
		Key:  m.IdempotencyKey,
		From: m.Caller,
		At:   m.OccurredAt,
	}
}

type initializeJSON struct {
	metaJSON
	Admin           string `json:"admin"`
	OraclePublisher string `json:"oracle_publisher"`
	Executor        string `json:"executor"`
	MaxJumpBps      int64  `json:"max_jump_bps"`
}

func parseInitialize(data []byte) (*command.Initialize, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Initialize: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse Initialize: %w", err)
	}
	return &command.Initialize{
		Meta:            j.toMeta(),
		Admin:           j.Admin,
		OraclePublisher: j.OraclePublisher,
		Executor:        j.Executor,
		MaxJumpBps:      j.MaxJumpBps,
	}, nil
}

type openPositionJSON struct {
	metaJSON
	PositionID    string `json:"position_id"`
	CollateralRef string `json:"collateral_ref"`
	Asset         string `json:"asset"`
}

func parseOpenPosition(data []byte) (*command.OpenPosition, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}
	if j.PositionID == "" {
		return nil, fmt.Errorf("parse OpenPosition: position_id is required")
	}
	return &command.OpenPosition{
		Meta:          j.toMeta(),
		PositionID:    j.PositionID,
		CollateralRef: j.CollateralRef,
		Asset:         j.Asset,
	}, nil
}

type drawJSON struct {
	metaJSON
	PositionID  string `json:"position_id"`
	Amount      int64  `json:"amount"`
	OracleRound int64  `json:"oracle_round"`
	NewLTVBps   int64  `json:"new_ltv_bps"`
}

func parseDraw(data []byte) (*command.Draw, error) {
	var j drawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Draw: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse Draw: %w", err)
	}
	return &command.Draw{
		Meta:        j.toMeta(),
		PositionID:  j.PositionID,
		Amount:      j.Amount,
		OracleRound: j.OracleRound,
		NewLTVBps:   j.NewLTVBps,
	}, nil
}

type repayJSON struct {
	metaJSON
	PositionID string `json:"position_id"`
	Amount     int64  `json:"amount"`
}

func parseRepay(data []byte) (*command.Repay, error) {
	var j repayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	return &command.Repay{
		Meta:       j.toMeta(),
		PositionID: j.PositionID,
		Amount:     j.Amount,
	}, nil
}

type accrueInterestJSON struct {
	metaJSON
	PositionID string `json:"position_id"`
	Delta      int64  `json:"delta"`
}

func parseAccrueInterest(data []byte) (*command.AccrueInterest, error) {
	var j accrueInterestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AccrueInterest: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse AccrueInterest: %w", err)
	}
	return &command.AccrueInterest{
		Meta:       j.toMeta(),
		PositionID: j.PositionID,
		Delta:      j.Delta,
	}, nil
}

type closePositionJSON struct {
	metaJSON
	PositionID string `json:"position_id"`
}

func parseClosePosition(data []byte) (*command.ClosePosition, error) {
	var j closePositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	return &command.ClosePosition{
		Meta:       j.toMeta(),
		PositionID: j.PositionID,
	}, nil
}

type restateCollateralJSON struct {
	metaJSON
	PositionID    string `json:"position_id"`
	CollateralRef string `json:"collateral_ref"`
	NewLTVBps     int64  `json:"new_ltv_bps"`
}

func parseRestateCollateral(data []byte) (*command.RestateCollateral, error) {
	var j restateCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RestateCollateral: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse RestateCollateral: %w", err)
	}
	return &command.RestateCollateral{
		Meta:          j.toMeta(),
		PositionID:    j.PositionID,
		CollateralRef: j.CollateralRef,
		NewLTVBps:     j.NewLTVBps,
	}, nil
}

type emitIntentJSON struct {
	metaJSON
	IntentID      string `json:"intent_id"`
	PositionID    string `json:"position_id"`
	Notional      int64  `json:"notional"`
	MinOut        int64  `json:"min_out"`
	SlippageBps   int64  `json:"slippage_bps"`
	Deadline      int64  `json:"deadline"`
	Nonce         int64  `json:"nonce"`
	PolicyVersion int64  `json:"policy_version"`
	OracleRound   int64  `json:"oracle_round"`
	VenueHash     string `json:"venue_hash"`
}

func parseEmitIntent(data []byte) (*command.EmitIntent, error) {
	var j emitIntentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EmitIntent: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse EmitIntent: %w", err)
	}
	if j.IntentID == "" {
		return nil, fmt.Errorf("parse EmitIntent: intent_id is required")
	}
	return &command.EmitIntent{
		Meta:          j.toMeta(),
		IntentID:      j.IntentID,
		PositionID:    j.PositionID,
		Notional:      j.Notional,
		MinOut:        j.MinOut,
		SlippageBps:   j.SlippageBps,
		Deadline:      j.Deadline,
		Nonce:         j.Nonce,
		PolicyVersion: j.PolicyVersion,
		OracleRound:   j.OracleRound,
		VenueHash:     j.VenueHash,
	}, nil
}

type composeIntentJSON struct {
	metaJSON
	PositionID string `json:"position_id"`
	VenueHash  string `json:"venue_hash"`
}

func parseComposeIntent(data []byte) (*command.ComposeIntent, error) {
	var j composeIntentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ComposeIntent: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse ComposeIntent: %w", err)
	}
	return &command.ComposeIntent{
		Meta:       j.toMeta(),
		PositionID: j.PositionID,
		VenueHash:  j.VenueHash,
	}, nil
}

type acceptReceiptJSON struct {
	metaJSON
	IntentID            string `json:"intent_id"`
	Proceeds            int64  `json:"proceeds"`
	ExecutedOracleRound int64  `json:"executed_oracle_round"`
}

func parseAcceptReceipt(data []byte) (*command.AcceptReceipt, error) {
	var j acceptReceiptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AcceptReceipt: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse AcceptReceipt: %w", err)
	}
	return &command.AcceptReceipt{
		Meta:                j.toMeta(),
		IntentID:            j.IntentID,
		Proceeds:            j.Proceeds,
		ExecutedOracleRound: j.ExecutedOracleRound,
	}, nil
}

type cancelIntentJSON struct {
	metaJSON
	IntentID string `json:"intent_id"`
}

func parseCancelIntent(data []byte) (*command.CancelIntent, error) {
	var j cancelIntentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelIntent: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse CancelIntent: %w", err)
	}
	return &command.CancelIntent{
		Meta:     j.toMeta(),
		IntentID: j.IntentID,
	}, nil
}

type updatePriceJSON struct {
	metaJSON
	Asset  string `json:"asset"`
	Price  int64  `json:"price"`
	Round  int64  `json:"round"`
	Source string `json:"source"`
}

func parseUpdatePrice(data []byte) (*command.UpdatePrice, error) {
	var j updatePriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdatePrice: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse UpdatePrice: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse UpdatePrice: asset is required")
	}
	return &command.UpdatePrice{
		Meta:   j.toMeta(),
		Asset:  j.Asset,
		Price:  j.Price,
		Round:  j.Round,
		Source: j.Source,
	}, nil
}

type setPolicyJSON struct {
	metaJSON
	Asset               string  `json:"asset"`
	MaxLTVBps           int64   `json:"max_ltv_bps"`
	LiquidationBandsBps []int64 `json:"liquidation_bands_bps"`
	SliceBps            int64   `json:"slice_bps"`
	CooldownSecs        int64   `json:"cooldown_secs"`
	MaxSlippageBps      int64   `json:"max_slippage_bps"`
	StalenessSecs       int64   `json:"staleness_secs"`
	BaseRateBps         int64   `json:"base_rate_bps"`
	SpreadBps           int64   `json:"spread_bps"`
	Allowed             bool    `json:"allowed"`
	CircuitBreaker      bool    `json:"circuit_breaker"`
}

func parseSetPolicy(data []byte) (*command.SetPolicy, error) {
	var j setPolicyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPolicy: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse SetPolicy: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse SetPolicy: asset is required")
	}
	return &command.SetPolicy{
		Meta:                j.toMeta(),
		Asset:               j.Asset,
		MaxLTVBps:           j.MaxLTVBps,
		LiquidationBandsBps: j.LiquidationBandsBps,
		SliceBps:            j.SliceBps,
		CooldownSecs:        j.CooldownSecs,
		MaxSlippageBps:      j.MaxSlippageBps,
		StalenessSecs:       j.StalenessSecs,
		BaseRateBps:         j.BaseRateBps,
		SpreadBps:           j.SpreadBps,
		Allowed:             j.Allowed,
		CircuitBreaker:      j.CircuitBreaker,
	}, nil
}

type toggleCircuitBreakerJSON struct {
	metaJSON
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

func parseToggleCircuitBreaker(data []byte) (*command.ToggleCircuitBreaker, error) {
	var j toggleCircuitBreakerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ToggleCircuitBreaker: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse ToggleCircuitBreaker: %w", err)
	}
	return &command.ToggleCircuitBreaker{
		Meta:    j.toMeta(),
		Asset:   j.Asset,
		Enabled: j.Enabled,
	}, nil
}

type venueJSON struct {
	metaJSON
	VenueHash string `json:"venue_hash"`
}

func parseAddVenue(data []byte) (*command.AddVenue, error) {
	var j venueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddVenue: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse AddVenue: %w", err)
	}
	if j.VenueHash == "" {
		return nil, fmt.Errorf("parse AddVenue: venue_hash is required")
	}
	return &command.AddVenue{
		Meta:      j.toMeta(),
		VenueHash: j.VenueHash,
	}, nil
}

func parseRemoveVenue(data []byte) (*command.RemoveVenue, error) {
	var j venueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveVenue: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("parse RemoveVenue: %w", err)
	}
	if j.VenueHash == "" {
		return nil, fmt.Errorf("parse RemoveVenue: venue_hash is required")
	}
	return &command.RemoveVenue{
		Meta:      j.toMeta(),
		VenueHash: j.VenueHash,
	}, nil
}
