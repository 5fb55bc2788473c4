package risk

import (
	"context"
	"fmt"

	"defiLoopBot/internal/ports"
)

// PortfolioGate is the default ports.SafetyGate implementation: a centralized
// approval point enforcing the capital-protection limits of the policy.
// Callers with their own risk systems can inject a different gate.
type PortfolioGate struct {
	policy Policy
	logger ports.Logger
}

// NewPortfolioGate creates a gate from a normalized policy.
func NewPortfolioGate(policy Policy, logger ports.Logger) *PortfolioGate {
	return &PortfolioGate{policy: policy, logger: logger}
}

// CanExecute reports whether an operation of the given size may run against
// the current portfolio. A false answer is a normal negative outcome.
func (g *PortfolioGate) CanExecute(ctx context.Context, amountUSD float64, operation string, snap ports.PortfolioSnapshot) (bool, string) {
	if amountUSD <= 0 {
		return false, "amount must be positive"
	}

	if snap.AvailableUSD-amountUSD < g.policy.MinOperatingBalanceUSD {
		return false, fmt.Sprintf("would drop available balance below minimum %.2f (available %.2f, requested %.2f)",
			g.policy.MinOperatingBalanceUSD, snap.AvailableUSD, amountUSD)
	}

	if g.policy.MaxTotalExposureUSD > 0 && snap.TotalExposureUSD+amountUSD > g.policy.MaxTotalExposureUSD {
		return false, fmt.Sprintf("would exceed max total exposure %.2f (current %.2f, requested %.2f)",
			g.policy.MaxTotalExposureUSD, snap.TotalExposureUSD, amountUSD)
	}

	if operation == "leverage_loop" && snap.ActiveLoops >= g.policy.MaxActiveLoops {
		return false, fmt.Sprintf("max active loops reached (%d/%d)", snap.ActiveLoops, g.policy.MaxActiveLoops)
	}

	g.logger.Debug(ctx, "Safety gate approved operation", map[string]interface{}{
		"operation": operation,
		"amountUSD": amountUSD,
	})
	return true, ""
}
