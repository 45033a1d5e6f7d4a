package state_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

// ============================================================================
// Test: Canonical serialization
// ============================================================================

// Adjacent variable-length fields must not alias: with a truncating
// length prefix, content can shift across the ID/Owner boundary while
// producing the same byte stream. The fixed-width prefix keeps these
// two distinct positions at distinct digests.
func TestCanonicalBytes_NoFieldBoundaryAliasing(t *testing.T) {
	base := state.Position{
		Asset:         "USDC",
		CollateralRef: "vault:ref:1",
		Principal:     1_000,
		Status:        state.PositionStatusOpen,
		CreatedAt:     1_000,
	}

	p1 := base
	p1.ID = "\x01" + strings.Repeat("a", 255)
	p1.Owner = "z"

	p2 := base
	p2.ID = ""
	p2.Owner = strings.Repeat("a", 255) + "\x01z"

	if bytes.Equal(p1.CanonicalBytes(), p2.CanonicalBytes()) {
		t.Fatal("distinct positions serialized to identical canonical bytes")
	}
}

func TestCanonicalBytes_LongStringsKeepFullLength(t *testing.T) {
	p1 := state.Position{ID: strings.Repeat("a", 256)}
	p2 := state.Position{ID: strings.Repeat("a", 512)}

	b1 := p1.CanonicalBytes()
	b2 := p2.CanonicalBytes()

	if len(b2)-len(b1) != 256 {
		t.Errorf("expected 256 extra bytes for the longer ID, got %d", len(b2)-len(b1))
	}
	if bytes.HasPrefix(b2, b1[:5]) {
		t.Error("length prefixes of 256- and 512-byte IDs must differ")
	}
}

func TestPolicyCanonicalBytes_BandCountFixedWidth(t *testing.T) {
	bands := make([]int64, 256)
	for i := range bands {
		bands[i] = int64(7_001 + i)
	}

	p := state.Policy{Asset: "USDC", MaxLTVBps: 7_000, LiquidationBandsBps: bands}
	got := len(p.CanonicalBytes())

	// asset prefix+content, max ltv, band count, bands, six rate/window
	// fields, two flags.
	want := 4 + 4 + 8 + 4 + 256*8 + 6*8 + 2
	if got != want {
		t.Errorf("expected %d canonical bytes for a 256-band policy, got %d", want, got)
	}
}
