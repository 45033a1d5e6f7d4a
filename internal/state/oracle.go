package state

import "fmt"

// PriceRound is the current price observation for an asset. Only the
// latest round is kept; history belongs to the projection layer.
type PriceRound struct {
	Asset     string
	Price     int64 // Scaled fixed-point
	Round     int64
	Source    string
	UpdatedAt int64
}

// CanonicalBytes returns deterministic serialization for hashing
func (pr *PriceRound) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	buf = appendString(buf, pr.Asset)
	buf = appendInt64LE(buf, pr.Price)
	buf = appendInt64LE(buf, pr.Round)
	buf = appendString(buf, pr.Source)
	buf = appendInt64LE(buf, pr.UpdatedAt)

	return buf
}

// PriceAdapter stores one round per asset behind a jump guard. A new
// price may not move more than maxJumpBps away from the previous stored
// price; the guard is skipped only when no previous price exists.
type PriceAdapter struct {
	rounds     map[string]*PriceRound
	maxJumpBps int64
}

func NewPriceAdapter(maxJumpBps int64) *PriceAdapter {
	return &PriceAdapter{
		rounds:     make(map[string]*PriceRound),
		maxJumpBps: maxJumpBps,
	}
}

// UpdatePrice accepts a new round for an asset. Rounds must be strictly
// increasing per asset. A move of exactly maxJumpBps is allowed; one bps
// beyond it is not.
func (pa *PriceAdapter) UpdatePrice(asset string, price, round int64, source string, now int64) (*PriceRound, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive, got %d", ErrInvalidAmount, price)
	}

	prev := pa.rounds[asset]
	if prev != nil {
		if round <= prev.Round {
			return nil, fmt.Errorf("%w: round %d not after %d for %s", ErrInvalidState, round, prev.Round, asset)
		}
		if prev.Price > 0 {
			diff := price - prev.Price
			if diff < 0 {
				diff = -diff
			}
			jumpBps := diff * 10000 / prev.Price
			if jumpBps > pa.maxJumpBps {
				return nil, fmt.Errorf("%w: %d bps > %d bps for %s", ErrPriceJumpExceeded, jumpBps, pa.maxJumpBps, asset)
			}
		}
	}

	stored := &PriceRound{
		Asset:     asset,
		Price:     price,
		Round:     round,
		Source:    source,
		UpdatedAt: now,
	}
	pa.rounds[asset] = stored

	return stored, nil
}

// GetPrice returns the stored round or ErrNotFound. Raw reads must not
// feed liquidation decisions; use GetPriceIfFresh for those.
func (pa *PriceAdapter) GetPrice(asset string) (*PriceRound, error) {
	round, ok := pa.rounds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrNotFound, asset)
	}
	return round, nil
}

// IsFresh reports whether a round exists and is at most maxAgeSecs old
func (pa *PriceAdapter) IsFresh(asset string, maxAgeSecs, now int64) bool {
	round, ok := pa.rounds[asset]
	if !ok {
		return false
	}
	return now-round.UpdatedAt <= maxAgeSecs
}

// GetPriceIfFresh returns the round only when it passes the freshness
// bound: ErrNotFound when absent, ErrExpired when stale.
func (pa *PriceAdapter) GetPriceIfFresh(asset string, maxAgeSecs, now int64) (*PriceRound, error) {
	round, ok := pa.rounds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrNotFound, asset)
	}
	if now-round.UpdatedAt > maxAgeSecs {
		return nil, fmt.Errorf("%w: price for %s is %ds old", ErrExpired, asset, now-round.UpdatedAt)
	}
	return round, nil
}

// MaxJumpBps returns the configured jump limit
func (pa *PriceAdapter) MaxJumpBps() int64 {
	return pa.maxJumpBps
}

// SetRound directly sets a round (used for snapshot restore)
func (pa *PriceAdapter) SetRound(round *PriceRound) {
	pa.rounds[round.Asset] = round
}

// AllRounds returns all stored rounds (for iteration and snapshots)
func (pa *PriceAdapter) AllRounds() []*PriceRound {
	result := make([]*PriceRound, 0, len(pa.rounds))
	for _, round := range pa.rounds {
		result = append(result, round)
	}
	return result
}
