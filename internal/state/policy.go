package state

import (
	"encoding/binary"
	"fmt"
)

// Policy is the full per-asset risk parameter bundle. SetPolicy replaces
// it wholesale; there is no partial-field update.
type Policy struct {
	Asset               string
	MaxLTVBps           int64
	LiquidationBandsBps []int64 // Ordered thresholds above MaxLTVBps
	SliceBps            int64   // Share of debt raised per liquidation step
	CooldownSecs        int64
	MaxSlippageBps      int64
	StalenessSecs       int64
	BaseRateBps         int64
	SpreadBps           int64
	Allowed             bool // Gates new borrowing
	CircuitBreaker      bool // Halts activity regardless of Allowed
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Policy) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = appendString(buf, p.Asset)
	buf = appendInt64LE(buf, p.MaxLTVBps)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.LiquidationBandsBps)))
	for _, band := range p.LiquidationBandsBps {
		buf = appendInt64LE(buf, band)
	}
	buf = appendInt64LE(buf, p.SliceBps)
	buf = appendInt64LE(buf, p.CooldownSecs)
	buf = appendInt64LE(buf, p.MaxSlippageBps)
	buf = appendInt64LE(buf, p.StalenessSecs)
	buf = appendInt64LE(buf, p.BaseRateBps)
	buf = appendInt64LE(buf, p.SpreadBps)
	buf = append(buf, boolByte(p.Allowed), boolByte(p.CircuitBreaker))

	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ValidatePolicy checks that a policy bundle is internally consistent:
// ltv in (0, 10000), bands non-empty strictly ascending and above the
// max LTV, slice in (0, 10000], slippage in [0, 10000), staleness and
// cooldown non-negative with staleness > 0.
func ValidatePolicy(p *Policy) error {
	if p.MaxLTVBps <= 0 || p.MaxLTVBps >= 10000 {
		return fmt.Errorf("%w: max_ltv_bps must be in (0, 10000), got %d", ErrInvalidAmount, p.MaxLTVBps)
	}
	if len(p.LiquidationBandsBps) == 0 {
		return fmt.Errorf("%w: at least one liquidation band is required", ErrInvalidAmount)
	}
	prev := p.MaxLTVBps
	for _, band := range p.LiquidationBandsBps {
		if band <= prev {
			return fmt.Errorf("%w: liquidation bands must ascend above max_ltv_bps, got %d after %d", ErrInvalidAmount, band, prev)
		}
		prev = band
	}
	if p.SliceBps <= 0 || p.SliceBps > 10000 {
		return fmt.Errorf("%w: slice_bps must be in (0, 10000], got %d", ErrInvalidAmount, p.SliceBps)
	}
	if p.MaxSlippageBps < 0 || p.MaxSlippageBps >= 10000 {
		return fmt.Errorf("%w: max_slippage_bps must be in [0, 10000), got %d", ErrInvalidAmount, p.MaxSlippageBps)
	}
	if p.StalenessSecs <= 0 {
		return fmt.Errorf("%w: staleness_secs must be > 0, got %d", ErrInvalidAmount, p.StalenessSecs)
	}
	if p.CooldownSecs < 0 {
		return fmt.Errorf("%w: cooldown_secs must be >= 0, got %d", ErrInvalidAmount, p.CooldownSecs)
	}
	if p.BaseRateBps < 0 || p.SpreadBps < 0 {
		return fmt.Errorf("%w: rate terms must be >= 0", ErrInvalidAmount)
	}
	return nil
}

// PolicyRegistry stores per-asset policies, the venue allow-list, and
// the registry-wide version counter. The version is deliberately global:
// any policy write anywhere invalidates the optimistic stamp carried by
// every in-flight intent.
type PolicyRegistry struct {
	policies map[string]*Policy
	venues   map[string]struct{}
	version  int64
}

func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		policies: make(map[string]*Policy),
		venues:   make(map[string]struct{}),
	}
}

// SetPolicy replaces the bundle for an asset and bumps the global
// version by exactly one.
func (pr *PolicyRegistry) SetPolicy(p *Policy) (int64, error) {
	if err := ValidatePolicy(p); err != nil {
		return 0, fmt.Errorf("invalid policy for %s: %w", p.Asset, err)
	}

	stored := *p
	stored.LiquidationBandsBps = append([]int64(nil), p.LiquidationBandsBps...)
	pr.policies[p.Asset] = &stored
	pr.version++

	return pr.version, nil
}

// GetPolicy returns the bundle for an asset or ErrNotFound
func (pr *PolicyRegistry) GetPolicy(asset string) (*Policy, error) {
	p, ok := pr.policies[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no policy for %s", ErrNotFound, asset)
	}
	return p, nil
}

// ToggleCircuitBreaker flips the per-asset kill switch independent of
// Allowed. Fails when the asset has no policy.
func (pr *PolicyRegistry) ToggleCircuitBreaker(asset string, enabled bool) (*Policy, error) {
	p, ok := pr.policies[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no policy for %s", ErrNotFound, asset)
	}

	p.CircuitBreaker = enabled

	return p, nil
}

// AddVenue inserts a venue hash into the allow-list. Idempotent.
func (pr *PolicyRegistry) AddVenue(venueHash string) error {
	if venueHash == "" {
		return fmt.Errorf("%w: venue hash is required", ErrInvalidAmount)
	}
	pr.venues[venueHash] = struct{}{}
	return nil
}

// RemoveVenue removes a venue hash from the allow-list
func (pr *PolicyRegistry) RemoveVenue(venueHash string) {
	delete(pr.venues, venueHash)
}

// IsVenueAllowed reports allow-list membership
func (pr *PolicyRegistry) IsVenueAllowed(venueHash string) bool {
	_, ok := pr.venues[venueHash]
	return ok
}

// Version returns the global policy version
func (pr *PolicyRegistry) Version() int64 {
	return pr.version
}

// RestorePolicy directly sets a policy without a version bump (used for
// snapshot restore)
func (pr *PolicyRegistry) RestorePolicy(p *Policy) {
	pr.policies[p.Asset] = p
}

// RestoreVersion directly sets the version (used for snapshot restore)
func (pr *PolicyRegistry) RestoreVersion(v int64) {
	pr.version = v
}

// AllPolicies returns all policies (for iteration and snapshots)
func (pr *PolicyRegistry) AllPolicies() []*Policy {
	result := make([]*Policy, 0, len(pr.policies))
	for _, p := range pr.policies {
		result = append(result, p)
	}
	return result
}

// AllVenues returns the allow-list contents (for iteration and snapshots)
func (pr *PolicyRegistry) AllVenues() []string {
	result := make([]string, 0, len(pr.venues))
	for v := range pr.venues {
		result = append(result, v)
	}
	return result
}
