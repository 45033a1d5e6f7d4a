package state

import "fmt"

// IntentStatus tracks the liquidation intent lifecycle
type IntentStatus int32

const (
	IntentStatusOpen IntentStatus = iota
	IntentStatusAccepted
	IntentStatusCancelled

	// IntentStatusExpired is never stored. It is the computed view of an
	// Open intent past its deadline; see EffectiveStatus.
	IntentStatusExpired
)

func (is IntentStatus) String() string {
	switch is {
	case IntentStatusOpen:
		return "Open"
	case IntentStatusAccepted:
		return "Accepted"
	case IntentStatusCancelled:
		return "Cancelled"
	case IntentStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// LiquidationIntent describes a planned partial collateral sale. The
// policy version and oracle round stamps freeze the assumptions the
// intent was composed under; re-validation before acceptance is the
// orchestrating caller's job.
type LiquidationIntent struct {
	ID            string
	PositionID    string
	Notional      int64 // Asset units to raise
	MinOut        int64 // Minimum acceptable proceeds
	SlippageBps   int64
	Deadline      int64 // Absolute time, inclusive
	Nonce         int64
	PolicyVersion int64
	OracleRound   int64
	VenueHash     string
	Status        IntentStatus
	CreatedAt     int64
}

// CanonicalBytes returns deterministic serialization for hashing
func (li *LiquidationIntent) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	buf = appendString(buf, li.ID)
	buf = appendString(buf, li.PositionID)
	buf = appendInt64LE(buf, li.Notional)
	buf = appendInt64LE(buf, li.MinOut)
	buf = appendInt64LE(buf, li.SlippageBps)
	buf = appendInt64LE(buf, li.Deadline)
	buf = appendInt64LE(buf, li.Nonce)
	buf = appendInt64LE(buf, li.PolicyVersion)
	buf = appendInt64LE(buf, li.OracleRound)
	buf = appendString(buf, li.VenueHash)
	buf = append(buf, byte(li.Status))
	buf = appendInt64LE(buf, li.CreatedAt)

	return buf
}

// LiquidationBook owns intents and per-position cooldowns. Receipt
// acceptance is the one entry point that reaches into the LoanBook, and
// it does so only after every local guard has passed, so a rejected
// receipt leaves both books untouched.
type LiquidationBook struct {
	intents   map[string]*LiquidationIntent
	cooldowns map[string]int64 // position id -> last acceptance time
	loans     *LoanBook
}

func NewLiquidationBook(loans *LoanBook) *LiquidationBook {
	return &LiquidationBook{
		intents:   make(map[string]*LiquidationIntent),
		cooldowns: make(map[string]int64),
		loans:     loans,
	}
}

// EmitIntent stores a new Open intent. No cross-book validation happens
// here; the composer has already checked policy, price, and venue.
func (lb *LiquidationBook) EmitIntent(intent *LiquidationIntent) error {
	if intent.ID == "" || intent.PositionID == "" {
		return fmt.Errorf("%w: intent id and position id are required", ErrInvalidAmount)
	}
	if intent.Notional <= 0 || intent.MinOut < 0 {
		return fmt.Errorf("%w: notional %d / min_out %d", ErrInvalidAmount, intent.Notional, intent.MinOut)
	}
	if _, exists := lb.intents[intent.ID]; exists {
		return fmt.Errorf("%w: intent %s already exists", ErrInvalidState, intent.ID)
	}

	stored := *intent
	stored.Status = IntentStatusOpen
	lb.intents[intent.ID] = &stored

	return nil
}

// AcceptReceipt settles an intent with realized proceeds. Guard order:
// existence, stored status, deadline (inclusive), minimum output
// (inclusive). On success the position's debt is reduced, the intent
// becomes Accepted, and the cooldown clock starts at now.
func (lb *LiquidationBook) AcceptReceipt(intentID string, proceeds, executedOracleRound, now int64) (*LiquidationIntent, *Position, error) {
	intent, ok := lb.intents[intentID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	if intent.Status != IntentStatusOpen {
		return nil, nil, fmt.Errorf("%w: intent %s is %s", ErrInvalidState, intentID, intent.Status)
	}
	if now > intent.Deadline {
		return nil, nil, fmt.Errorf("%w: intent %s deadline %d passed at %d", ErrExpired, intentID, intent.Deadline, now)
	}
	if proceeds < intent.MinOut {
		return nil, nil, fmt.Errorf("%w: proceeds %d < min_out %d", ErrBelowMinimum, proceeds, intent.MinOut)
	}

	pos, err := lb.loans.ApplyLiquidation(intent.PositionID, proceeds, executedOracleRound, intent.Nonce)
	if err != nil {
		return nil, nil, err
	}

	intent.Status = IntentStatusAccepted
	lb.cooldowns[intent.PositionID] = now

	return intent, pos, nil
}

// CancelIntent withdraws an Open intent. Accepted and Cancelled intents
// are final; cancelling them is rejected so an already settled receipt
// can never be contradicted.
func (lb *LiquidationBook) CancelIntent(intentID string) (*LiquidationIntent, error) {
	intent, ok := lb.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	if intent.Status != IntentStatusOpen {
		return nil, fmt.Errorf("%w: intent %s is %s", ErrInvalidState, intentID, intent.Status)
	}

	intent.Status = IntentStatusCancelled

	return intent, nil
}

// GetIntent returns the stored intent or ErrNotFound
func (lb *LiquidationBook) GetIntent(intentID string) (*LiquidationIntent, error) {
	intent, ok := lb.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	return intent, nil
}

// EffectiveStatus reports the intent's status as of now. Stored status
// is never rewritten on expiry; an Open intent past its deadline reads
// as Expired while remaining cancellable.
func EffectiveStatus(intent *LiquidationIntent, now int64) IntentStatus {
	if intent.Status == IntentStatusOpen && now > intent.Deadline {
		return IntentStatusExpired
	}
	return intent.Status
}

// CooldownStart returns the last acceptance time for a position.
// Absence means the position has never been liquidated.
func (lb *LiquidationBook) CooldownStart(positionID string) (int64, bool) {
	start, ok := lb.cooldowns[positionID]
	return start, ok
}

// IsInCooldown reports whether a position is locked for the given
// window: true from the acceptance instant until now >= start + window.
func (lb *LiquidationBook) IsInCooldown(positionID string, window, now int64) bool {
	start, ok := lb.cooldowns[positionID]
	if !ok {
		return false
	}
	return now < start+window
}

// SetIntent directly sets an intent (used for snapshot restore)
func (lb *LiquidationBook) SetIntent(intent *LiquidationIntent) {
	lb.intents[intent.ID] = intent
}

// SetCooldown directly sets a cooldown (used for snapshot restore)
func (lb *LiquidationBook) SetCooldown(positionID string, start int64) {
	lb.cooldowns[positionID] = start
}

// AllIntents returns all intents (for iteration and snapshots)
func (lb *LiquidationBook) AllIntents() []*LiquidationIntent {
	result := make([]*LiquidationIntent, 0, len(lb.intents))
	for _, intent := range lb.intents {
		result = append(result, intent)
	}
	return result
}

// AllCooldowns returns a copy of the cooldown map (for snapshots)
func (lb *LiquidationBook) AllCooldowns() map[string]int64 {
	result := make(map[string]int64, len(lb.cooldowns))
	for k, v := range lb.cooldowns {
		result[k] = v
	}
	return result
}
