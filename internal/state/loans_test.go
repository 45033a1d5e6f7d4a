package state_test

import (
	"errors"
	"testing"

	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

// --- Test helpers ---

func mustOpen(t *testing.T, lb *state.LoanBook, id string) *state.Position {
	t.Helper()
	pos, err := lb.Open(id, "owner-1", "vault:ref:1", "USDC", 1_000)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", id, err)
	}
	return pos
}

func mustDraw(t *testing.T, lb *state.LoanBook, id string, amount int64) *state.Position {
	t.Helper()
	pos, err := lb.Draw(id, amount, 1, 5000)
	if err != nil {
		t.Fatalf("Draw(%s, %d) failed: %v", id, amount, err)
	}
	return pos
}

// ============================================================================
// Test: Open
// ============================================================================

func TestOpen_FreshPosition(t *testing.T) {
	lb := state.NewLoanBook()
	pos := mustOpen(t, lb, "pos-1")

	if pos.Status != state.PositionStatusOpen {
		t.Errorf("expected Open status, got %s", pos.Status)
	}
	if pos.TotalDebt() != 0 {
		t.Errorf("expected zero debt, got %d", pos.TotalDebt())
	}
	if pos.Owner != "owner-1" {
		t.Errorf("expected owner-1, got %s", pos.Owner)
	}
}

func TestOpen_DuplicateID_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	_, err := lb.Open("pos-1", "owner-2", "vault:ref:2", "USDC", 2_000)
	if !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestOpen_MissingID_Fails(t *testing.T) {
	lb := state.NewLoanBook()

	_, err := lb.Open("", "owner-1", "vault:ref:1", "USDC", 1_000)
	if !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// ============================================================================
// Test: Draw
// ============================================================================

func TestDraw_IncreasesPrincipal(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	pos, err := lb.Draw("pos-1", 500_000, 7, 6200)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	if pos.Principal != 500_000 {
		t.Errorf("expected principal 500000, got %d", pos.Principal)
	}
	if pos.OracleRound != 7 {
		t.Errorf("expected oracle round 7, got %d", pos.OracleRound)
	}
	if pos.LTVBps != 6200 {
		t.Errorf("expected ltv 6200, got %d", pos.LTVBps)
	}
}

func TestDraw_Accumulates(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 300)
	pos := mustDraw(t, lb, "pos-1", 200)

	if pos.Principal != 500 {
		t.Errorf("expected principal 500, got %d", pos.Principal)
	}
}

func TestDraw_NonPositiveAmount_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	for _, amount := range []int64{0, -1} {
		if _, err := lb.Draw("pos-1", amount, 1, 5000); !errors.Is(err, state.ErrInvalidAmount) {
			t.Errorf("Draw(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDraw_UnknownPosition_Fails(t *testing.T) {
	lb := state.NewLoanBook()

	if _, err := lb.Draw("nope", 100, 1, 5000); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDraw_OnCooldownPosition_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)

	if _, err := lb.ApplyLiquidation("pos-1", 400, 2, 1); err != nil {
		t.Fatalf("ApplyLiquidation failed: %v", err)
	}

	if _, err := lb.Draw("pos-1", 100, 3, 5000); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// ============================================================================
// Test: Repay Waterfall
// ============================================================================

func TestRepay_InterestFirst(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)
	if _, err := lb.AccrueInterest("pos-1", 40); err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}

	interestPaid, principalPaid, pos, err := lb.Repay("pos-1", 100)
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	if interestPaid != 40 {
		t.Errorf("expected 40 interest paid, got %d", interestPaid)
	}
	if principalPaid != 60 {
		t.Errorf("expected 60 principal paid, got %d", principalPaid)
	}
	if pos.AccruedInterest != 0 {
		t.Errorf("expected zero accrued interest, got %d", pos.AccruedInterest)
	}
	if pos.Principal != 940 {
		t.Errorf("expected principal 940, got %d", pos.Principal)
	}
}

func TestRepay_LessThanInterest_NeverTouchesPrincipal(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)
	if _, err := lb.AccrueInterest("pos-1", 50); err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}

	interestPaid, principalPaid, pos, err := lb.Repay("pos-1", 30)
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	if interestPaid != 30 || principalPaid != 0 {
		t.Errorf("expected 30/0 split, got %d/%d", interestPaid, principalPaid)
	}
	if pos.Principal != 1_000 {
		t.Errorf("principal must be untouched, got %d", pos.Principal)
	}
	if pos.AccruedInterest != 20 {
		t.Errorf("expected 20 interest remaining, got %d", pos.AccruedInterest)
	}
}

func TestRepay_MoreThanDebt_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 100)

	_, _, _, err := lb.Repay("pos-1", 101)
	if !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	// The rejected payment must leave the position untouched.
	pos, _ := lb.Get("pos-1")
	if pos.Principal != 100 {
		t.Errorf("expected principal 100 after rejected repay, got %d", pos.Principal)
	}
}

func TestRepay_FullDebt_BecomesClosable(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 500)
	if _, err := lb.AccrueInterest("pos-1", 25); err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}

	_, _, pos, err := lb.Repay("pos-1", 525)
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	if pos.Status != state.PositionStatusClosable {
		t.Errorf("expected Closable, got %s", pos.Status)
	}
	if pos.TotalDebt() != 0 {
		t.Errorf("expected zero debt, got %d", pos.TotalDebt())
	}
}

func TestRepay_ClosedPosition_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 100)
	if _, _, _, err := lb.Repay("pos-1", 100); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	if _, err := lb.Close("pos-1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, _, err := lb.Repay("pos-1", 1); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// ============================================================================
// Test: Interest Accrual
// ============================================================================

func TestAccrueInterest_AddsDelta(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)

	pos, err := lb.AccrueInterest("pos-1", 17)
	if err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}
	if pos.AccruedInterest != 17 {
		t.Errorf("expected interest 17, got %d", pos.AccruedInterest)
	}
	if pos.TotalDebt() != 1_017 {
		t.Errorf("expected debt 1017, got %d", pos.TotalDebt())
	}
}

func TestAccrueInterest_ZeroDelta_Allowed(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	if _, err := lb.AccrueInterest("pos-1", 0); err != nil {
		t.Fatalf("zero delta must be accepted: %v", err)
	}
}

func TestAccrueInterest_NegativeDelta_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	if _, err := lb.AccrueInterest("pos-1", -1); !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// ============================================================================
// Test: Liquidation Application
// ============================================================================

func TestApplyLiquidation_Partial_EntersCooldown(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)
	if _, err := lb.AccrueInterest("pos-1", 100); err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}

	pos, err := lb.ApplyLiquidation("pos-1", 300, 9, 1)
	if err != nil {
		t.Fatalf("ApplyLiquidation failed: %v", err)
	}

	if pos.Status != state.PositionStatusInLiquidationCooldown {
		t.Errorf("expected InLiquidationCooldown, got %s", pos.Status)
	}
	// Waterfall order holds for proceeds too: interest first.
	if pos.AccruedInterest != 0 {
		t.Errorf("expected zero accrued interest, got %d", pos.AccruedInterest)
	}
	if pos.Principal != 800 {
		t.Errorf("expected principal 800, got %d", pos.Principal)
	}
	if pos.Nonce != 1 {
		t.Errorf("expected nonce 1, got %d", pos.Nonce)
	}
	if pos.OracleRound != 9 {
		t.Errorf("expected oracle round 9, got %d", pos.OracleRound)
	}
}

func TestApplyLiquidation_FullProceeds_Closes(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 400)

	pos, err := lb.ApplyLiquidation("pos-1", 400, 3, 2)
	if err != nil {
		t.Fatalf("ApplyLiquidation failed: %v", err)
	}

	if pos.Status != state.PositionStatusClosed {
		t.Errorf("expected Closed, got %s", pos.Status)
	}
	if pos.TotalDebt() != 0 {
		t.Errorf("expected zero debt, got %d", pos.TotalDebt())
	}
}

func TestApplyLiquidation_ProceedsExceedDebt_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 400)

	if _, err := lb.ApplyLiquidation("pos-1", 401, 3, 1); !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyLiquidation_NonceAccumulates(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)

	if _, err := lb.ApplyLiquidation("pos-1", 100, 2, 1); err != nil {
		t.Fatalf("first liquidation failed: %v", err)
	}
	pos, err := lb.ApplyLiquidation("pos-1", 100, 3, 2)
	if err != nil {
		t.Fatalf("second liquidation failed: %v", err)
	}

	if pos.Nonce != 3 {
		t.Errorf("expected nonce 3, got %d", pos.Nonce)
	}
}

func TestApplyLiquidation_ClosedPosition_Fails(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 100)
	if _, err := lb.ApplyLiquidation("pos-1", 100, 2, 1); err != nil {
		t.Fatalf("ApplyLiquidation failed: %v", err)
	}

	if _, err := lb.ApplyLiquidation("pos-1", 1, 3, 2); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// ============================================================================
// Test: Close
// ============================================================================

func TestClose_RequiresClosable(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	if _, err := lb.Close("pos-1"); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("closing an Open position must fail, got %v", err)
	}
}

func TestClose_AfterFullRepay(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 250)
	if _, _, _, err := lb.Repay("pos-1", 250); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	pos, err := lb.Close("pos-1")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if pos.Status != state.PositionStatusClosed {
		t.Errorf("expected Closed, got %s", pos.Status)
	}
}

// ============================================================================
// Test: Status Transitions
// ============================================================================

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to state.PositionStatus
		allowed  bool
	}{
		{state.PositionStatusOpen, state.PositionStatusClosable, true},
		{state.PositionStatusOpen, state.PositionStatusInLiquidationCooldown, true},
		{state.PositionStatusOpen, state.PositionStatusClosed, true},
		{state.PositionStatusClosable, state.PositionStatusClosed, true},
		{state.PositionStatusClosable, state.PositionStatusOpen, false},
		{state.PositionStatusInLiquidationCooldown, state.PositionStatusInLiquidationCooldown, true},
		{state.PositionStatusInLiquidationCooldown, state.PositionStatusClosable, true},
		{state.PositionStatusClosed, state.PositionStatusOpen, false},
		{state.PositionStatusClosed, state.PositionStatusClosable, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

// ============================================================================
// Test: Bookkeeping
// ============================================================================

func TestTotalDebt_UnknownPosition_Zero(t *testing.T) {
	lb := state.NewLoanBook()

	if debt := lb.TotalDebt("no-such"); debt != 0 {
		t.Errorf("expected zero debt for unknown position, got %d", debt)
	}
}

func TestVersion_IncrementsOnEveryMutation(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")
	mustDraw(t, lb, "pos-1", 1_000)

	pos, _ := lb.Get("pos-1")
	v := pos.Version

	if _, err := lb.AccrueInterest("pos-1", 5); err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}
	if pos.Version != v+1 {
		t.Errorf("expected version %d after accrual, got %d", v+1, pos.Version)
	}

	if _, _, _, err := lb.Repay("pos-1", 100); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	if pos.Version != v+2 {
		t.Errorf("expected version %d after repay, got %d", v+2, pos.Version)
	}
}

func TestRestateCollateral_ReplacesRefAndLTV(t *testing.T) {
	lb := state.NewLoanBook()
	mustOpen(t, lb, "pos-1")

	pos, err := lb.RestateCollateral("pos-1", "vault:ref:2", 4500)
	if err != nil {
		t.Fatalf("RestateCollateral failed: %v", err)
	}
	if pos.CollateralRef != "vault:ref:2" {
		t.Errorf("expected vault:ref:2, got %s", pos.CollateralRef)
	}
	if pos.LTVBps != 4500 {
		t.Errorf("expected ltv 4500, got %d", pos.LTVBps)
	}
}
