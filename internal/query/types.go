package query

import "encoding/json"

// PositionResponse represents a loan position for API queries.
type PositionResponse struct {
	PositionID        string `json:"position_id"`
	Owner             string `json:"owner"`
	Asset             string `json:"asset"`
	CollateralRef     string `json:"collateral_ref"`
	Principal         int64  `json:"principal"`
	Interest          int64  `json:"interest"`
	Status            string `json:"status"`
	Nonce             int64  `json:"nonce"`
	LTVBps            int64  `json:"ltv_bps"`
	LastOracleRound   int64  `json:"last_oracle_round"`
	CooldownStartedAt int64  `json:"cooldown_started_at"`
	OpenedAt          int64  `json:"opened_at"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// DebtResponse is the debt breakdown of a single position.
type DebtResponse struct {
	PositionID   string `json:"position_id"`
	Principal    int64  `json:"principal"`
	Interest     int64  `json:"interest"`
	TotalDebt    int64  `json:"total_debt"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntentResponse represents a liquidation intent for API queries.
type IntentResponse struct {
	IntentID            string `json:"intent_id"`
	PositionID          string `json:"position_id"`
	Notional            int64  `json:"notional"`
	MinOut              int64  `json:"min_out"`
	SlippageBps         int64  `json:"slippage_bps"`
	Deadline            int64  `json:"deadline"`
	Nonce               int64  `json:"nonce"`
	PolicyVersion       int64  `json:"policy_version"`
	OracleRound         int64  `json:"oracle_round"`
	VenueHash           string `json:"venue_hash"`
	Status              string `json:"status"`
	Proceeds            int64  `json:"proceeds"`
	ExecutedOracleRound int64  `json:"executed_oracle_round"`
	CreatedAt           int64  `json:"created_at"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// PriceResponse is the latest accepted oracle round for an asset.
type PriceResponse struct {
	Asset        string `json:"asset"`
	Round        int64  `json:"round"`
	Price        int64  `json:"price"`
	Source       string `json:"source"`
	PublishedAt  int64  `json:"published_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PolicyResponse is the active policy bundle for an asset.
type PolicyResponse struct {
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
	Version             int64   `json:"version"`
	AsOfSequence        int64   `json:"as_of_sequence"`
}

// PolicyVersionResponse is the global monotonic policy version.
type PolicyVersionResponse struct {
	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// VenueResponse is one allow-listed execution venue.
type VenueResponse struct {
	VenueHash string `json:"venue_hash"`
	AddedAt   int64  `json:"added_at"`
}

// LiquidationHistoryEntry is one applied liquidation receipt.
type LiquidationHistoryEntry struct {
	Sequence     int64  `json:"sequence"`
	PositionID   string `json:"position_id"`
	Proceeds     int64  `json:"proceeds"`
	OracleRound  int64  `json:"oracle_round"`
	ReceiptNonce int64  `json:"receipt_nonce"`
	ExecutedAt   int64  `json:"executed_at"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LastSequence    int64   `json:"last_sequence"`
}

func marshalBands(raw []byte) ([]int64, error) {
	var bands []int64
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &bands); err != nil {
		return nil, err
	}
	return bands, nil
}
