package domain

import "time"

// Fixed policy constants for the recursive leverage strategy.
// These are protocol-independent risk parameters, not per-call options.
const (
	// MaxLoanToValue is the borrowing ceiling: debt may never exceed 75% of
	// total collateral value.
	MaxLoanToValue = 0.75

	// LiquidationThreshold is the minimum collateral ratio (150%) before a
	// position is at liquidation risk.
	LiquidationThreshold = 1.5

	// HealthyRatioSentinel stands in for the collateral ratio of a loop with
	// zero debt. Any ratio at or above it maps to a health score of 1.0.
	HealthyRatioSentinel = 2.0
)

// LeveragePosition is one borrow/collateral step within a leverage loop.
//
// CollateralAmountUSD is the cumulative total collateral across all iterations
// up to and including this one; BorrowedAmountUSD is only this iteration's
// incremental borrow. The sum of BorrowedAmountUSD over a loop's positions is
// the loop's total exposure.
type LeveragePosition struct {
	PositionID             string         // Derived: "<loopID>-<iteration>"
	LoopID                 string         // Owning loop
	Iteration              int            // 1-based, unique within the loop
	CollateralToken        string         // Asset backing the position (e.g. "SOL", "mSOL")
	CollateralAmountUSD    float64        // Cumulative collateral at this iteration
	BorrowedAmountUSD      float64        // Incremental borrow for this iteration
	LendingProtocol        string         // Protocol servicing the consolidated lend
	BorrowingProtocol      string         // Protocol the borrow was taken on
	LiquidationThreshold   float64        // Fixed at LiquidationThreshold
	CurrentCollateralRatio float64        // Cumulative collateral / cumulative debt at creation
	Status                 PositionStatus // active until its borrow is repaid
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsActive reports whether the position's borrow is still outstanding.
func (p *LeveragePosition) IsActive() bool {
	return p.Status == StatusActive
}

// LeverageLoop is an aggregate multi-iteration recursive leverage strategy
// instance. Positions are kept in insertion order, which is iteration order.
type LeverageLoop struct {
	LoopID               string
	InitialCapitalUSD    float64 // Immutable once created
	Iterations           int     // Count of positions successfully created
	MaxIterations        int     // Target ceiling from safe-leverage sizing
	CurrentLeverageRatio float64 // Cumulative debt / initial capital; starts at 1.0
	TotalExposureUSD     float64 // Cumulative debt currently at risk
	Positions            []*LeveragePosition
	Status               LoopStatus
	HealthScore          float64 // Most recently computed, in [0,1]
	CreatedAt            time.Time
}

// TotalBorrowedUSD sums the incremental borrow amounts across all positions.
// It equals TotalExposureUSD whenever the loop's bookkeeping is consistent.
func (l *LeverageLoop) TotalBorrowedUSD() float64 {
	var total float64
	for _, p := range l.Positions {
		total += p.BorrowedAmountUSD
	}
	return total
}

// LastPosition returns the most recently created position, or nil for an
// empty loop. Its collateral ratio reflects the cumulative state of the
// whole loop.
func (l *LeverageLoop) LastPosition() *LeveragePosition {
	if len(l.Positions) == 0 {
		return nil
	}
	return l.Positions[len(l.Positions)-1]
}

// CollateralTokens returns the distinct collateral assets touched by this
// loop's positions, in first-seen order.
func (l *LeverageLoop) CollateralTokens() []string {
	seen := make(map[string]bool, 1)
	tokens := make([]string, 0, 1)
	for _, p := range l.Positions {
		if !seen[p.CollateralToken] {
			seen[p.CollateralToken] = true
			tokens = append(tokens, p.CollateralToken)
		}
	}
	return tokens
}

// IsActive reports whether the loop still belongs in the active set.
func (l *LeverageLoop) IsActive() bool {
	return !l.Status.IsTerminal()
}
