package state

import "fmt"

// LoanBook owns all positions. Single-threaded; every entry point
// validates fully before mutating so a failed call leaves no trace.
type LoanBook struct {
	positions map[string]*Position
}

func NewLoanBook() *LoanBook {
	return &LoanBook{
		positions: make(map[string]*Position),
	}
}

// Open creates a fresh Open position with zero debt.
// Reusing an existing id is rejected.
func (lb *LoanBook) Open(id, owner, collateralRef, asset string, now int64) (*Position, error) {
	if id == "" || owner == "" {
		return nil, fmt.Errorf("%w: position id and owner are required", ErrInvalidAmount)
	}
	if _, exists := lb.positions[id]; exists {
		return nil, fmt.Errorf("%w: position %s already exists", ErrInvalidState, id)
	}

	pos := &Position{
		ID:            id,
		Owner:         owner,
		Asset:         asset,
		CollateralRef: collateralRef,
		Status:        PositionStatusOpen,
		CreatedAt:     now,
	}
	lb.positions[id] = pos

	return pos, nil
}

// Draw increases principal on an Open position. The LTV and oracle round
// are supplied by the caller; the book records them without recomputing.
func (lb *LoanBook) Draw(id string, amount, oracleRound, newLTVBps int64) (*Position, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: draw amount must be positive, got %d", ErrInvalidAmount, amount)
	}

	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status != PositionStatusOpen {
		return nil, fmt.Errorf("%w: cannot draw on %s position %s", ErrInvalidState, pos.Status, id)
	}

	pos.Principal += amount
	pos.OracleRound = oracleRound
	pos.LTVBps = newLTVBps
	pos.Version++

	return pos, nil
}

// Repay applies a payment through the waterfall: accrued interest first,
// remainder to principal. Paying more than the outstanding debt fails.
func (lb *LoanBook) Repay(id string, amount int64) (interestPaid, principalPaid int64, pos *Position, err error) {
	if amount <= 0 {
		return 0, 0, nil, fmt.Errorf("%w: repay amount must be positive, got %d", ErrInvalidAmount, amount)
	}

	pos, ok := lb.positions[id]
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status == PositionStatusClosed {
		return 0, 0, nil, fmt.Errorf("%w: position %s is closed", ErrInvalidState, id)
	}
	if amount > pos.TotalDebt() {
		return 0, 0, nil, fmt.Errorf("%w: payment %d exceeds outstanding debt %d", ErrInvalidAmount, amount, pos.TotalDebt())
	}

	interestPaid, principalPaid = applyWaterfall(pos, amount)
	lb.settleIfRepaid(pos, PositionStatusClosable)
	pos.Version++

	return interestPaid, principalPaid, pos, nil
}

// AccrueInterest adds a precomputed interest delta. Never changes status.
func (lb *LoanBook) AccrueInterest(id string, delta int64) (*Position, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: interest delta must be >= 0, got %d", ErrInvalidAmount, delta)
	}

	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status == PositionStatusClosed {
		return nil, fmt.Errorf("%w: position %s is closed", ErrInvalidState, id)
	}

	pos.AccruedInterest += delta
	pos.Version++

	return pos, nil
}

// ApplyLiquidation posts realized liquidation proceeds against the debt,
// advances the receipt nonce, and moves the position to cooldown, or to
// Closed when the proceeds fully repay it.
func (lb *LoanBook) ApplyLiquidation(id string, proceeds, oracleRound, receiptNonce int64) (*Position, error) {
	if proceeds <= 0 {
		return nil, fmt.Errorf("%w: proceeds must be positive, got %d", ErrInvalidAmount, proceeds)
	}

	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status == PositionStatusClosed {
		return nil, fmt.Errorf("%w: position %s is closed", ErrInvalidState, id)
	}
	if proceeds > pos.TotalDebt() {
		return nil, fmt.Errorf("%w: proceeds %d exceed outstanding debt %d", ErrInvalidAmount, proceeds, pos.TotalDebt())
	}

	next := PositionStatusInLiquidationCooldown
	if proceeds == pos.TotalDebt() {
		next = PositionStatusClosed
	}
	if !pos.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s for position %s", ErrInvalidState, pos.Status, next, id)
	}

	applyWaterfall(pos, proceeds)
	pos.Nonce += receiptNonce
	pos.OracleRound = oracleRound
	pos.Status = next
	pos.Version++

	return pos, nil
}

// Close finalizes a Closable position with zero outstanding debt.
func (lb *LoanBook) Close(id string) (*Position, error) {
	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status != PositionStatusClosable {
		return nil, fmt.Errorf("%w: cannot close %s position %s", ErrInvalidState, pos.Status, id)
	}
	if pos.TotalDebt() != 0 {
		return nil, fmt.Errorf("%w: position %s still owes %d", ErrInvalidState, id, pos.TotalDebt())
	}

	pos.Status = PositionStatusClosed
	pos.Version++

	return pos, nil
}

// RestateCollateral replaces the collateral reference and LTV stamp after
// an off-protocol revaluation.
func (lb *LoanBook) RestateCollateral(id, collateralRef string, newLTVBps int64) (*Position, error) {
	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if pos.Status == PositionStatusClosed {
		return nil, fmt.Errorf("%w: position %s is closed", ErrInvalidState, id)
	}

	pos.CollateralRef = collateralRef
	pos.LTVBps = newLTVBps
	pos.Version++

	return pos, nil
}

// Get returns the position or ErrNotFound
func (lb *LoanBook) Get(id string) (*Position, error) {
	pos, ok := lb.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return pos, nil
}

// TotalDebt returns principal plus interest. Unknown positions report
// zero debt rather than an error; callers relying on existence must use Get.
func (lb *LoanBook) TotalDebt(id string) int64 {
	pos, ok := lb.positions[id]
	if !ok {
		return 0
	}
	return pos.TotalDebt()
}

// Owner reports whether addr owns the position
func (lb *LoanBook) Owner(id string) (string, error) {
	pos, ok := lb.positions[id]
	if !ok {
		return "", fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return pos.Owner, nil
}

// SetPosition directly sets a position (used for snapshot restore)
func (lb *LoanBook) SetPosition(pos *Position) {
	lb.positions[pos.ID] = pos
}

// AllPositions returns all positions (for iteration and snapshots)
func (lb *LoanBook) AllPositions() []*Position {
	result := make([]*Position, 0, len(lb.positions))
	for _, pos := range lb.positions {
		result = append(result, pos)
	}
	return result
}

// applyWaterfall reduces accrued interest to zero before touching
// principal. The order is fixed.
func applyWaterfall(pos *Position, amount int64) (interestPaid, principalPaid int64) {
	interestPaid = amount
	if interestPaid > pos.AccruedInterest {
		interestPaid = pos.AccruedInterest
	}
	pos.AccruedInterest -= interestPaid

	principalPaid = amount - interestPaid
	pos.Principal -= principalPaid

	return interestPaid, principalPaid
}

// settleIfRepaid drives a fully repaid position to the given settled
// status instead of leaving it silently Open.
func (lb *LoanBook) settleIfRepaid(pos *Position, settled PositionStatus) {
	if pos.TotalDebt() != 0 || pos.Status == settled {
		return
	}
	if pos.Status.CanTransitionTo(settled) {
		pos.Status = settled
	}
}
