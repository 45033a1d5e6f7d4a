// Package gate holds the interfaces to off-protocol collaborators. The
// engine only ever sees these interfaces; real deployments wire remote
// implementations, tests and the default binary use the static ones.
package gate

import "sync"

// IdentityGate answers whether an address has passed the off-protocol
// identity check and may borrow.
type IdentityGate interface {
	Allowed(addr string) bool
}

// CollateralValuer reports the size of the collateral behind an opaque
// reference, in collateral units. The custodian holding the collateral
// implements this; the engine never sees the collateral itself.
type CollateralValuer interface {
	Units(collateralRef string) (int64, error)
}

// Quote is a single observation served by the legacy feed
type Quote struct {
	Asset     string
	Price     int64
	Timestamp int64
}

// QuoteFeed is the legacy read-only price surface: latest quote plus a
// time-weighted average over the recent window. Consumers that need the
// jump-guarded adapter must not use this.
type QuoteFeed interface {
	Latest(asset string) (Quote, bool)
	TWAP(asset string, windowSecs, now int64) (int64, bool)
}

// StaticIdentityGate is an in-memory allow-list
type StaticIdentityGate struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
	openAll bool
}

// NewStaticIdentityGate allows exactly the given addresses. With no
// addresses it allows everyone, which is the development default.
func NewStaticIdentityGate(addrs ...string) *StaticIdentityGate {
	g := &StaticIdentityGate{
		allowed: make(map[string]struct{}, len(addrs)),
		openAll: len(addrs) == 0,
	}
	for _, a := range addrs {
		g.allowed[a] = struct{}{}
	}
	return g
}

func (g *StaticIdentityGate) Allowed(addr string) bool {
	if g.openAll {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[addr]
	return ok
}

// Admit adds an address to the allow-list
func (g *StaticIdentityGate) Admit(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[addr] = struct{}{}
	g.openAll = false
}

// StaticCollateralValuer is an in-memory ref -> units table
type StaticCollateralValuer struct {
	mu    sync.RWMutex
	units map[string]int64
}

func NewStaticCollateralValuer() *StaticCollateralValuer {
	return &StaticCollateralValuer{units: make(map[string]int64)}
}

func (v *StaticCollateralValuer) Set(collateralRef string, units int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.units[collateralRef] = units
}

func (v *StaticCollateralValuer) Units(collateralRef string) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	u, ok := v.units[collateralRef]
	if !ok {
		return 0, ErrUnknownCollateral
	}
	return u, nil
}
