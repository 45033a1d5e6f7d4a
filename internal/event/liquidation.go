package event

// IntentEmitted records a new liquidation intent with the policy and
// oracle stamps it was composed under
type IntentEmitted struct {
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
	Timestamp     int64  `json:"timestamp"`
}

func (e *IntentEmitted) EventType() EventType { return EventTypeIntentEmitted }
func (e *IntentEmitted) EntityID() string     { return e.IntentID }

// ReceiptAccepted records settled liquidation proceeds
type ReceiptAccepted struct {
	IntentID            string `json:"intent_id"`
	PositionID          string `json:"position_id"`
	Proceeds            int64  `json:"proceeds"`
	ExecutedOracleRound int64  `json:"executed_oracle_round"`
	Timestamp           int64  `json:"timestamp"`
}

func (e *ReceiptAccepted) EventType() EventType { return EventTypeReceiptAccepted }
func (e *ReceiptAccepted) EntityID() string     { return e.IntentID }

// CooldownStarted marks the re-liquidation lock on a position
type CooldownStarted struct {
	PositionID string `json:"position_id"`
	StartedAt  int64  `json:"started_at"`
}

func (e *CooldownStarted) EventType() EventType { return EventTypeCooldownStarted }
func (e *CooldownStarted) EntityID() string     { return e.PositionID }

// IntentCancelled emitted when an Open intent is withdrawn
type IntentCancelled struct {
	IntentID   string `json:"intent_id"`
	PositionID string `json:"position_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *IntentCancelled) EventType() EventType { return EventTypeIntentCancelled }
func (e *IntentCancelled) EntityID() string     { return e.IntentID }
