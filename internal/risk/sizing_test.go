package risk

import (
	"context"
	"testing"

	"defiLoopBot/internal/domain"
)

func TestSafeLeverageNeverExceedsHardCaps(t *testing.T) {
	// Deliberately aggressive policy values must still land under the caps.
	policy := Policy{
		BaseMaxLeverage:      50.0,
		BaseMaxIterations:    20,
		BullishLeverageMult:  10.0,
		BullishIterationMult: 10.0,
	}
	if err := policy.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	sizer := NewSizer(policy, nil)

	capitals := []map[string]float64{
		{"SOL": 1_000_000},
		{"SOL": 0},
		{},
		{"SOL": -500, "mSOL": 100_000},
	}
	sentiments := []domain.Sentiment{domain.SentimentBullish, domain.SentimentNeutral, domain.SentimentBearish}

	for _, capital := range capitals {
		for _, s := range sentiments {
			leverage, iterations := sizer.SafeLeverage(context.Background(), capital, s)
			if leverage > HardMaxLeverage {
				t.Errorf("leverage %f exceeds hard cap for sentiment %s", leverage, s)
			}
			if iterations > HardMaxIterations {
				t.Errorf("iterations %d exceeds hard cap for sentiment %s", iterations, s)
			}
			if iterations < 1 {
				t.Errorf("iterations %d below minimum for sentiment %s", iterations, s)
			}
		}
	}
}

func TestSafeLeverageSentiment(t *testing.T) {
	policy := DefaultPolicy()
	sizer := NewSizer(policy, nil)
	capital := map[string]float64{"SOL": 100_000}

	bullLev, bullIters := sizer.SafeLeverage(context.Background(), capital, domain.SentimentBullish)
	neutLev, neutIters := sizer.SafeLeverage(context.Background(), capital, domain.SentimentNeutral)
	bearLev, bearIters := sizer.SafeLeverage(context.Background(), capital, domain.SentimentBearish)

	// Defaults: base 2.0x / 2 iterations; bullish 1.25x/1.5x; bearish 0.6x/0.5x.
	if bullLev != 2.5 || bullIters != 3 {
		t.Errorf("bullish sizing = (%f, %d), want (2.5, 3)", bullLev, bullIters)
	}
	if neutLev != 2.0 || neutIters != 2 {
		t.Errorf("neutral sizing = (%f, %d), want (2.0, 2)", neutLev, neutIters)
	}
	if bearLev != 1.2 || bearIters != 1 {
		t.Errorf("bearish sizing = (%f, %d), want (1.2, 1)", bearLev, bearIters)
	}
}

func TestSafeLeveragePositionScaling(t *testing.T) {
	policy := DefaultPolicy()
	policy.PortfolioValueUSD = 100_000
	if err := policy.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	sizer := NewSizer(policy, nil)

	// Tiny position (< 5% of portfolio): always a single iteration.
	_, iters := sizer.SafeLeverage(context.Background(), map[string]float64{"SOL": 2_000}, domain.SentimentBullish)
	if iters != 1 {
		t.Errorf("tiny position iterations = %d, want 1", iters)
	}

	// Medium position (< 15%): at most two iterations even when bullish.
	_, iters = sizer.SafeLeverage(context.Background(), map[string]float64{"SOL": 10_000}, domain.SentimentBullish)
	if iters != 2 {
		t.Errorf("medium position iterations = %d, want 2", iters)
	}

	// Large position keeps the sentiment-sized budget.
	_, iters = sizer.SafeLeverage(context.Background(), map[string]float64{"SOL": 50_000}, domain.SentimentBullish)
	if iters != 3 {
		t.Errorf("large position iterations = %d, want 3", iters)
	}
}

func TestSafeLeverageIgnoresNegativeBalances(t *testing.T) {
	policy := DefaultPolicy()
	policy.PortfolioValueUSD = 100_000
	sizer := NewSizer(policy, nil)

	// Only the positive balance counts: 2k total is a tiny position.
	_, iters := sizer.SafeLeverage(context.Background(),
		map[string]float64{"SOL": 2_000, "mSOL": -50_000}, domain.SentimentBullish)
	if iters != 1 {
		t.Errorf("iterations = %d, want 1 when only positive balances count", iters)
	}
}
