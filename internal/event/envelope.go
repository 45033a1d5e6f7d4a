package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeEngineInitialized
	EventTypePositionOpened
	EventTypeDrewDown
	EventTypeRepaid
	EventTypeInterestAccrued
	EventTypeLiquidationApplied
	EventTypePositionClosed
	EventTypeCollateralRestated
	EventTypeIntentEmitted
	EventTypeReceiptAccepted
	EventTypeCooldownStarted
	EventTypeIntentCancelled
	EventTypePriceUpdated
	EventTypePolicyUpdated
	EventTypeCircuitBreakerToggled
	EventTypeVenueAdded
	EventTypeVenueRemoved
)

// Envelope wraps every entry in the audit log. The log is append-only;
// the state hash chain makes silent edits detectable on replay.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable id of the envelope itself
	EventID string

	// Idempotency key of the command that produced this event
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (nullable for global events)
	Asset *string

	// Host-supplied command timestamp (NOT wall-clock)
	OccurredAt int64

	// JSON-encoded event payload
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all audit event payloads implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// EntityID returns the primary id of the touched entity
	EntityID() string
}

// EventTypeFromString resolves a stored event_type name back to its
// discriminator. Unrecognized names map to EventTypeUnknown.
func EventTypeFromString(s string) EventType {
	for et := EventTypeEngineInitialized; et <= EventTypeVenueRemoved; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// PrimaryEventType returns the first event type a command emits when it
// is applied. Deduplication against the event log keys off this mapping
// so the same idempotency key under a different command type is not a
// false duplicate.
func PrimaryEventType(commandType string) (EventType, bool) {
	switch commandType {
	case "Initialize":
		return EventTypeEngineInitialized, true
	case "OpenPosition":
		return EventTypePositionOpened, true
	case "Draw":
		return EventTypeDrewDown, true
	case "Repay":
		return EventTypeRepaid, true
	case "AccrueInterest":
		return EventTypeInterestAccrued, true
	case "ClosePosition":
		return EventTypePositionClosed, true
	case "RestateCollateral":
		return EventTypeCollateralRestated, true
	case "EmitIntent", "ComposeIntent":
		return EventTypeIntentEmitted, true
	case "AcceptReceipt":
		return EventTypeReceiptAccepted, true
	case "CancelIntent":
		return EventTypeIntentCancelled, true
	case "UpdatePrice":
		return EventTypePriceUpdated, true
	case "SetPolicy":
		return EventTypePolicyUpdated, true
	case "ToggleCircuitBreaker":
		return EventTypeCircuitBreakerToggled, true
	case "AddVenue":
		return EventTypeVenueAdded, true
	case "RemoveVenue":
		return EventTypeVenueRemoved, true
	}
	return EventTypeUnknown, false
}

// CommandForEvent is the inverse of PrimaryEventType, restricted to
// event types that identify exactly one command. IntentEmitted and
// PositionClosed are ambiguous (two commands can produce them), so they
// report false and dedup falls through to the database tier.
func CommandForEvent(et EventType) (string, bool) {
	switch et {
	case EventTypeEngineInitialized:
		return "Initialize", true
	case EventTypePositionOpened:
		return "OpenPosition", true
	case EventTypeDrewDown:
		return "Draw", true
	case EventTypeRepaid:
		return "Repay", true
	case EventTypeInterestAccrued:
		return "AccrueInterest", true
	case EventTypeCollateralRestated:
		return "RestateCollateral", true
	case EventTypeReceiptAccepted:
		return "AcceptReceipt", true
	case EventTypeIntentCancelled:
		return "CancelIntent", true
	case EventTypePriceUpdated:
		return "UpdatePrice", true
	case EventTypePolicyUpdated:
		return "SetPolicy", true
	case EventTypeCircuitBreakerToggled:
		return "ToggleCircuitBreaker", true
	case EventTypeVenueAdded:
		return "AddVenue", true
	case EventTypeVenueRemoved:
		return "RemoveVenue", true
	}
	return "", false
}

func (et EventType) String() string {
	switch et {
	case EventTypeEngineInitialized:
		return "EngineInitialized"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypeDrewDown:
		return "DrewDown"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeInterestAccrued:
		return "InterestAccrued"
	case EventTypeLiquidationApplied:
		return "LiquidationApplied"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypeCollateralRestated:
		return "CollateralRestated"
	case EventTypeIntentEmitted:
		return "IntentEmitted"
	case EventTypeReceiptAccepted:
		return "ReceiptAccepted"
	case EventTypeCooldownStarted:
		return "CooldownStarted"
	case EventTypeIntentCancelled:
		return "IntentCancelled"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	case EventTypePolicyUpdated:
		return "PolicyUpdated"
	case EventTypeCircuitBreakerToggled:
		return "CircuitBreakerToggled"
	case EventTypeVenueAdded:
		return "VenueAdded"
	case EventTypeVenueRemoved:
		return "VenueRemoved"
	default:
		return "Unknown"
	}
}
