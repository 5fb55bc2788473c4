package risk

import (
	"context"
	"fmt"
	"math"

	"defiLoopBot/internal/domain"
	"defiLoopBot/internal/ports"
)

// Sizer computes the safe leverage ratio and iteration count for a new
// leverage loop. It sits on an automated path, so it never panics and never
// returns an error: any internal failure yields the conservative fallback.
type Sizer struct {
	policy Policy
	logger ports.Logger
}

// NewSizer creates a sizer from a normalized policy.
func NewSizer(policy Policy, logger ports.Logger) *Sizer {
	return &Sizer{policy: policy, logger: logger}
}

// SafeLeverage applies the sentiment multiplier to the base leverage and
// iteration budget, scales iterations down for small positions, and hard-caps
// the result at HardMaxLeverage / HardMaxIterations.
func (s *Sizer) SafeLeverage(ctx context.Context, availableByAsset map[string]float64, sentiment domain.Sentiment) (leverage float64, iterations int) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error(ctx, fmt.Errorf("panic in leverage sizing: %v", r),
					"Leverage sizing failed, using conservative fallback")
			}
			leverage = FallbackLeverage
			iterations = FallbackIterations
		}
	}()

	var totalCapital float64
	for _, usd := range availableByAsset {
		if usd > 0 {
			totalCapital += usd
		}
	}

	leverage = s.policy.BaseMaxLeverage
	itersF := float64(s.policy.BaseMaxIterations)

	switch sentiment {
	case domain.SentimentBullish:
		leverage *= s.policy.BullishLeverageMult
		itersF *= s.policy.BullishIterationMult
	case domain.SentimentBearish:
		leverage *= s.policy.BearishLeverageMult
		itersF *= s.policy.BearishIterationMult
	}

	iterations = int(math.Round(itersF))
	if iterations > HardMaxIterations {
		iterations = HardMaxIterations
	}
	if iterations < 1 {
		iterations = 1
	}
	if leverage > HardMaxLeverage {
		leverage = HardMaxLeverage
	}

	// Scale iterations down for small positions relative to total portfolio
	// value. When no portfolio value is configured the deployed capital
	// itself is the portfolio.
	portfolio := s.policy.PortfolioValueUSD
	if portfolio <= 0 {
		portfolio = totalCapital
	}
	switch {
	case totalCapital < portfolio*s.policy.TinyPositionPct:
		iterations = 1
	case totalCapital < portfolio*s.policy.MediumPositionPct:
		if iterations > 2 {
			iterations = 2
		}
	}

	if s.logger != nil {
		s.logger.Debug(ctx, "Safe leverage computed", map[string]interface{}{
			"sentiment":  sentiment,
			"capital":    totalCapital,
			"leverage":   leverage,
			"iterations": iterations,
		})
	}
	return leverage, iterations
}
