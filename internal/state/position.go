package state

import "encoding/binary"

// PositionStatus tracks the lifecycle of a loan position
type PositionStatus int32

const (
	PositionStatusOpen PositionStatus = iota
	PositionStatusClosable
	PositionStatusInLiquidationCooldown
	PositionStatusClosed
)

// Position is a borrower's loan record. Collateral lives off-protocol;
// CollateralRef is an opaque reference and LTVBps is whatever the caller
// last stamped, never computed here.
type Position struct {
	ID              string
	Owner           string
	Asset           string
	CollateralRef   string
	Principal       int64 // Fixed-point asset units
	AccruedInterest int64 // Fixed-point asset units
	LTVBps          int64
	OracleRound     int64 // Last round observed by a draw or liquidation
	Nonce           int64 // Advanced by applied liquidation receipts
	Status          PositionStatus
	CreatedAt       int64
	Version         int64 // Optimistic concurrency control
}

func (ps PositionStatus) String() string {
	switch ps {
	case PositionStatusOpen:
		return "Open"
	case PositionStatusClosable:
		return "Closable"
	case PositionStatusInLiquidationCooldown:
		return "InLiquidationCooldown"
	case PositionStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions
func (ps PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusOpen: {
			PositionStatusClosable,
			PositionStatusInLiquidationCooldown,
			PositionStatusClosed, // Full repayment via liquidation proceeds
		},
		PositionStatusClosable: {
			PositionStatusClosed,
			PositionStatusInLiquidationCooldown,
		},
		PositionStatusInLiquidationCooldown: {
			PositionStatusInLiquidationCooldown, // Repeat partial liquidations
			PositionStatusClosable,
			PositionStatusClosed,
		},
		PositionStatusClosed: {},
	}

	allowed, ok := validTransitions[ps]
	if !ok {
		return false
	}

	for _, allowedStatus := range allowed {
		if next == allowedStatus {
			return true
		}
	}

	return false
}

// TotalDebt returns principal plus accrued interest
func (p *Position) TotalDebt() int64 {
	return p.Principal + p.AccruedInterest
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	buf = appendString(buf, p.ID)
	buf = appendString(buf, p.Owner)
	buf = appendString(buf, p.Asset)
	buf = appendString(buf, p.CollateralRef)
	buf = appendInt64LE(buf, p.Principal)
	buf = appendInt64LE(buf, p.AccruedInterest)
	buf = appendInt64LE(buf, p.LTVBps)
	buf = appendInt64LE(buf, p.OracleRound)
	buf = appendInt64LE(buf, p.Nonce)
	buf = append(buf, byte(p.Status))
	buf = appendInt64LE(buf, p.CreatedAt)

	return buf
}

// appendString writes a fixed-width length prefix so adjacent
// variable-length fields can never alias under the digest.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, []byte(s)...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
