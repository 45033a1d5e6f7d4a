package state_test

import (
	"errors"
	"testing"

	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

func validPolicy(asset string) *state.Policy {
	return &state.Policy{
		Asset:               asset,
		MaxLTVBps:           7000,
		LiquidationBandsBps: []int64{8000, 9000},
		SliceBps:            2500,
		CooldownSecs:        300,
		MaxSlippageBps:      100,
		StalenessSecs:       60,
		BaseRateBps:         200,
		SpreadBps:           50,
		Allowed:             true,
	}
}

// ============================================================================
// Test: Policy Validation
// ============================================================================

func TestValidatePolicy_Valid(t *testing.T) {
	if err := state.ValidatePolicy(validPolicy("USDC")); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}

func TestValidatePolicy_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*state.Policy)
	}{
		{"zero max ltv", func(p *state.Policy) { p.MaxLTVBps = 0 }},
		{"max ltv at full scale", func(p *state.Policy) { p.MaxLTVBps = 10000 }},
		{"no bands", func(p *state.Policy) { p.LiquidationBandsBps = nil }},
		{"band below max ltv", func(p *state.Policy) { p.LiquidationBandsBps = []int64{6000} }},
		{"bands not ascending", func(p *state.Policy) { p.LiquidationBandsBps = []int64{9000, 8000} }},
		{"zero slice", func(p *state.Policy) { p.SliceBps = 0 }},
		{"slice over full scale", func(p *state.Policy) { p.SliceBps = 10001 }},
		{"slippage at full scale", func(p *state.Policy) { p.MaxSlippageBps = 10000 }},
		{"zero staleness", func(p *state.Policy) { p.StalenessSecs = 0 }},
		{"negative cooldown", func(p *state.Policy) { p.CooldownSecs = -1 }},
		{"negative base rate", func(p *state.Policy) { p.BaseRateBps = -1 }},
	}

	for _, tc := range cases {
		p := validPolicy("USDC")
		tc.mutate(p)
		if err := state.ValidatePolicy(p); !errors.Is(err, state.ErrInvalidAmount) {
			t.Errorf("%s: expected ErrInvalidAmount, got %v", tc.name, err)
		}
	}
}

// ============================================================================
// Test: Registry Versioning
// ============================================================================

func TestSetPolicy_BumpsGlobalVersion(t *testing.T) {
	pr := state.NewPolicyRegistry()

	v1, err := pr.SetPolicy(validPolicy("USDC"))
	if err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	if v1 != 1 {
		t.Errorf("expected version 1, got %d", v1)
	}

	// A write for a different asset still bumps the shared counter.
	v2, err := pr.SetPolicy(validPolicy("WETH"))
	if err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	if v2 != 2 {
		t.Errorf("expected version 2, got %d", v2)
	}
	if pr.Version() != 2 {
		t.Errorf("expected registry version 2, got %d", pr.Version())
	}
}

func TestSetPolicy_InvalidBundle_NoVersionBump(t *testing.T) {
	pr := state.NewPolicyRegistry()

	p := validPolicy("USDC")
	p.SliceBps = 0
	if _, err := pr.SetPolicy(p); err == nil {
		t.Fatal("expected validation failure")
	}
	if pr.Version() != 0 {
		t.Errorf("rejected write must not bump the version, got %d", pr.Version())
	}
}

func TestSetPolicy_CopiesBands(t *testing.T) {
	pr := state.NewPolicyRegistry()

	p := validPolicy("USDC")
	if _, err := pr.SetPolicy(p); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	p.LiquidationBandsBps[0] = 1

	stored, _ := pr.GetPolicy("USDC")
	if stored.LiquidationBandsBps[0] != 8000 {
		t.Errorf("stored bands must not alias the caller's slice, got %d", stored.LiquidationBandsBps[0])
	}
}

// ============================================================================
// Test: Circuit Breaker
// ============================================================================

func TestToggleCircuitBreaker(t *testing.T) {
	pr := state.NewPolicyRegistry()
	if _, err := pr.SetPolicy(validPolicy("USDC")); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}

	p, err := pr.ToggleCircuitBreaker("USDC", true)
	if err != nil {
		t.Fatalf("ToggleCircuitBreaker failed: %v", err)
	}
	if !p.CircuitBreaker {
		t.Error("expected circuit breaker engaged")
	}
	if !p.Allowed {
		t.Error("the breaker must not touch the Allowed flag")
	}

	if _, err := pr.ToggleCircuitBreaker("WETH", true); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an asset without a policy, got %v", err)
	}
}

// ============================================================================
// Test: Venue Allow-list
// ============================================================================

func TestVenueAllowList(t *testing.T) {
	pr := state.NewPolicyRegistry()

	if pr.IsVenueAllowed("venue-a") {
		t.Error("empty allow-list must deny")
	}

	if err := pr.AddVenue("venue-a"); err != nil {
		t.Fatalf("AddVenue failed: %v", err)
	}
	if !pr.IsVenueAllowed("venue-a") {
		t.Error("expected venue-a allowed after add")
	}

	// Adding twice is idempotent.
	if err := pr.AddVenue("venue-a"); err != nil {
		t.Fatalf("repeat AddVenue failed: %v", err)
	}

	pr.RemoveVenue("venue-a")
	if pr.IsVenueAllowed("venue-a") {
		t.Error("expected venue-a denied after remove")
	}

	// Removing an absent venue is a no-op.
	pr.RemoveVenue("venue-b")
}

func TestAddVenue_EmptyHash_Fails(t *testing.T) {
	pr := state.NewPolicyRegistry()

	if err := pr.AddVenue(""); !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
