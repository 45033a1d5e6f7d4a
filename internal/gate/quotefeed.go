package gate

import (
	"errors"
	"sync"
)

// ErrUnknownCollateral reports a collateral reference the custodian
// does not recognize.
var ErrUnknownCollateral = errors.New("gate: unknown collateral reference")

// RingQuoteFeed keeps a bounded window of quotes per asset and serves
// the legacy latest/TWAP surface from it. It is fed from accepted price
// rounds; no jump guard is applied here.
type RingQuoteFeed struct {
	mu       sync.RWMutex
	capacity int
	quotes   map[string][]Quote
}

func NewRingQuoteFeed(capacity int) *RingQuoteFeed {
	if capacity <= 0 {
		capacity = 64
	}
	return &RingQuoteFeed{
		capacity: capacity,
		quotes:   make(map[string][]Quote),
	}
}

// Record appends a quote, evicting the oldest past capacity
func (f *RingQuoteFeed) Record(q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()

	window := append(f.quotes[q.Asset], q)
	if len(window) > f.capacity {
		window = window[len(window)-f.capacity:]
	}
	f.quotes[q.Asset] = window
}

func (f *RingQuoteFeed) Latest(asset string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	window := f.quotes[asset]
	if len(window) == 0 {
		return Quote{}, false
	}
	return window[len(window)-1], true
}

// TWAP returns the time-weighted average price over quotes inside the
// window. Each quote's weight is the span until the next observation,
// the last one weighted up to now.
func (f *RingQuoteFeed) TWAP(asset string, windowSecs, now int64) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	window := f.quotes[asset]
	cutoff := now - windowSecs

	inWindow := make([]Quote, 0, len(window))
	for _, q := range window {
		if q.Timestamp >= cutoff && q.Timestamp <= now {
			inWindow = append(inWindow, q)
		}
	}
	if len(inWindow) == 0 {
		return 0, false
	}

	var weightedSum, totalWeight int64
	for i, q := range inWindow {
		var span int64
		if i+1 < len(inWindow) {
			span = inWindow[i+1].Timestamp - q.Timestamp
		} else {
			span = now - q.Timestamp
		}
		if span <= 0 {
			span = 1
		}
		weightedSum += q.Price * span
		totalWeight += span
	}

	return weightedSum / totalWeight, true
}
