package event

// EngineInitialized records the trust chain set at bootstrap
type EngineInitialized struct {
	Admin           string `json:"admin"`
	OraclePublisher string `json:"oracle_publisher"`
	Executor        string `json:"executor"`
	MaxJumpBps      int64  `json:"max_jump_bps"`
	Timestamp       int64  `json:"timestamp"`
}

func (e *EngineInitialized) EventType() EventType { return EventTypeEngineInitialized }
func (e *EngineInitialized) EntityID() string     { return e.Admin }

// PositionOpened emitted when a fresh loan position is created
type PositionOpened struct {
	PositionID    string `json:"position_id"`
	Owner         string `json:"owner"`
	Asset         string `json:"asset"`
	CollateralRef string `json:"collateral_ref"`
	Timestamp     int64  `json:"timestamp"`
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }
func (e *PositionOpened) EntityID() string     { return e.PositionID }

// DrewDown emitted when principal is drawn against collateral
type DrewDown struct {
	PositionID  string `json:"position_id"`
	Amount      int64  `json:"amount"`
	Principal   int64  `json:"principal"`
	OracleRound int64  `json:"oracle_round"`
	LTVBps      int64  `json:"ltv_bps"`
	Timestamp   int64  `json:"timestamp"`
}

func (e *DrewDown) EventType() EventType { return EventTypeDrewDown }
func (e *DrewDown) EntityID() string     { return e.PositionID }

// Repaid emitted for every repayment, split by waterfall leg
type Repaid struct {
	PositionID    string `json:"position_id"`
	Payer         string `json:"payer"`
	Amount        int64  `json:"amount"`
	InterestPaid  int64  `json:"interest_paid"`
	PrincipalPaid int64  `json:"principal_paid"`
	Principal     int64  `json:"principal"`
	Interest      int64  `json:"interest"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
}

func (e *Repaid) EventType() EventType { return EventTypeRepaid }
func (e *Repaid) EntityID() string     { return e.PositionID }

// InterestAccrued emitted when a precomputed interest delta is posted
type InterestAccrued struct {
	PositionID string `json:"position_id"`
	Delta      int64  `json:"delta"`
	Interest   int64  `json:"interest"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *InterestAccrued) EventType() EventType { return EventTypeInterestAccrued }
func (e *InterestAccrued) EntityID() string     { return e.PositionID }

// LiquidationApplied emitted when proceeds reduce a position's debt
type LiquidationApplied struct {
	PositionID   string `json:"position_id"`
	Proceeds     int64  `json:"proceeds"`
	Principal    int64  `json:"principal"`
	Interest     int64  `json:"interest"`
	OracleRound  int64  `json:"oracle_round"`
	ReceiptNonce int64  `json:"receipt_nonce"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

func (e *LiquidationApplied) EventType() EventType { return EventTypeLiquidationApplied }
func (e *LiquidationApplied) EntityID() string     { return e.PositionID }

// PositionClosed emitted when a position reaches Closed
type PositionClosed struct {
	PositionID string `json:"position_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }
func (e *PositionClosed) EntityID() string     { return e.PositionID }

// CollateralRestated emitted on an admin collateral revaluation
type CollateralRestated struct {
	PositionID    string `json:"position_id"`
	CollateralRef string `json:"collateral_ref"`
	LTVBps        int64  `json:"ltv_bps"`
	Timestamp     int64  `json:"timestamp"`
}

func (e *CollateralRestated) EventType() EventType { return EventTypeCollateralRestated }
func (e *CollateralRestated) EntityID() string     { return e.PositionID }
