// Package command defines the typed inbound commands the engine
// consumes. Every command names its caller and carries the host-supplied
// timestamp; the engine derives authority by comparing the caller
// address against the configured trust chain, never from a claimed role.
package command

// CommandType discriminator
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInitialize
	CommandTypeOpenPosition
	CommandTypeDraw
	CommandTypeRepay
	CommandTypeAccrueInterest
	CommandTypeClosePosition
	CommandTypeRestateCollateral
	CommandTypeEmitIntent
	CommandTypeComposeIntent
	CommandTypeAcceptReceipt
	CommandTypeCancelIntent
	CommandTypeUpdatePrice
	CommandTypeSetPolicy
	CommandTypeToggleCircuitBreaker
	CommandTypeAddVenue
	CommandTypeRemoveVenue
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeInitialize:
		return "Initialize"
	case CommandTypeOpenPosition:
		return "OpenPosition"
	case CommandTypeDraw:
		return "Draw"
	case CommandTypeRepay:
		return "Repay"
	case CommandTypeAccrueInterest:
		return "AccrueInterest"
	case CommandTypeClosePosition:
		return "ClosePosition"
	case CommandTypeRestateCollateral:
		return "RestateCollateral"
	case CommandTypeEmitIntent:
		return "EmitIntent"
	case CommandTypeComposeIntent:
		return "ComposeIntent"
	case CommandTypeAcceptReceipt:
		return "AcceptReceipt"
	case CommandTypeCancelIntent:
		return "CancelIntent"
	case CommandTypeUpdatePrice:
		return "UpdatePrice"
	case CommandTypeSetPolicy:
		return "SetPolicy"
	case CommandTypeToggleCircuitBreaker:
		return "ToggleCircuitBreaker"
	case CommandTypeAddVenue:
		return "AddVenue"
	case CommandTypeRemoveVenue:
		return "RemoveVenue"
	default:
		return "Unknown"
	}
}

// Command is the interface all inbound commands implement
type Command interface {
	CommandType() CommandType

	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// Caller returns the signing address
	Caller() string

	// OccurredAt returns the host-supplied timestamp (unix seconds)
	OccurredAt() int64
}

// Meta is embedded by every command
type Meta struct {
	Key  string
	From string
	At   int64
}

func (m Meta) IdempotencyKey() string { return m.Key }
func (m Meta) Caller() string         { return m.From }
func (m Meta) OccurredAt() int64      { return m.At }

// Initialize sets the trust chain: the administrator, the single
// trusted oracle publisher, the receipt executor, and the price jump
// limit. Exactly one Initialize ever succeeds.
type Initialize struct {
	Meta
	Admin           string
	OraclePublisher string
	Executor        string
	MaxJumpBps      int64
}

func (c *Initialize) CommandType() CommandType { return CommandTypeInitialize }

// OpenPosition creates a fresh loan position owned by the caller
type OpenPosition struct {
	Meta
	PositionID    string
	CollateralRef string
	Asset         string
}

func (c *OpenPosition) CommandType() CommandType { return CommandTypeOpenPosition }

// Draw borrows against the position's collateral. The oracle round and
// LTV stamps come from the caller's own pre-checks.
type Draw struct {
	Meta
	PositionID  string
	Amount      int64
	OracleRound int64
	NewLTVBps   int64
}

func (c *Draw) CommandType() CommandType { return CommandTypeDraw }

// Repay pays down debt; the caller is the payer
type Repay struct {
	Meta
	PositionID string
	Amount     int64
}

func (c *Repay) CommandType() CommandType { return CommandTypeRepay }

// AccrueInterest posts a precomputed interest delta (admin only)
type AccrueInterest struct {
	Meta
	PositionID string
	Delta      int64
}

func (c *AccrueInterest) CommandType() CommandType { return CommandTypeAccrueInterest }

// ClosePosition finalizes a Closable position (owner only)
type ClosePosition struct {
	Meta
	PositionID string
}

func (c *ClosePosition) CommandType() CommandType { return CommandTypeClosePosition }

// RestateCollateral revalues a position's collateral (admin only)
type RestateCollateral struct {
	Meta
	PositionID    string
	CollateralRef string
	NewLTVBps     int64
}

func (c *RestateCollateral) CommandType() CommandType { return CommandTypeRestateCollateral }

// EmitIntent records a fully specified liquidation intent. The caller
// vouches for having checked policy, price, and venue already.
type EmitIntent struct {
	Meta
	IntentID      string
	PositionID    string
	Notional      int64
	MinOut        int64
	SlippageBps   int64
	Deadline      int64
	Nonce         int64
	PolicyVersion int64
	OracleRound   int64
	VenueHash     string
}

func (c *EmitIntent) CommandType() CommandType { return CommandTypeEmitIntent }

// ComposeIntent asks the engine to evaluate the position against live
// policy and a fresh price and emit the resulting intent in one step
type ComposeIntent struct {
	Meta
	PositionID string
	VenueHash  string
}

func (c *ComposeIntent) CommandType() CommandType { return CommandTypeComposeIntent }

// AcceptReceipt settles an intent with realized proceeds
type AcceptReceipt struct {
	Meta
	IntentID            string
	Proceeds            int64
	ExecutedOracleRound int64
}

func (c *AcceptReceipt) CommandType() CommandType { return CommandTypeAcceptReceipt }

// CancelIntent withdraws an Open intent (admin only)
type CancelIntent struct {
	Meta
	IntentID string
}

func (c *CancelIntent) CommandType() CommandType { return CommandTypeCancelIntent }

// UpdatePrice publishes a new oracle round (publisher only)
type UpdatePrice struct {
	Meta
	Asset  string
	Price  int64
	Round  int64
	Source string
}

func (c *UpdatePrice) CommandType() CommandType { return CommandTypeUpdatePrice }

// SetPolicy replaces the whole risk parameter bundle for an asset
type SetPolicy struct {
	Meta
	Asset               string
	MaxLTVBps           int64
	LiquidationBandsBps []int64
	SliceBps            int64
	CooldownSecs        int64
	MaxSlippageBps      int64
	StalenessSecs       int64
	BaseRateBps         int64
	SpreadBps           int64
	Allowed             bool
	CircuitBreaker      bool
}

func (c *SetPolicy) CommandType() CommandType { return CommandTypeSetPolicy }

// ToggleCircuitBreaker flips the per-asset kill switch
type ToggleCircuitBreaker struct {
	Meta
	Asset   string
	Enabled bool
}

func (c *ToggleCircuitBreaker) CommandType() CommandType { return CommandTypeToggleCircuitBreaker }

// AddVenue inserts an execution venue into the allow-list
type AddVenue struct {
	Meta
	VenueHash string
}

func (c *AddVenue) CommandType() CommandType { return CommandTypeAddVenue }

// RemoveVenue removes an execution venue from the allow-list
type RemoveVenue struct {
	Meta
	VenueHash string
}

func (c *RemoveVenue) CommandType() CommandType { return CommandTypeRemoveVenue }
