package risk

import (
	"context"
	"testing"

	"defiLoopBot/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestPortfolioGate(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxTotalExposureUSD = 50_000
	if err := policy.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	gate := NewPortfolioGate(policy, noopLogger{})

	snap := ports.PortfolioSnapshot{
		TotalValueUSD:    100_000,
		AvailableUSD:     60_000,
		TotalExposureUSD: 40_000,
		ActiveLoops:      2,
	}

	// Approved within all limits.
	ok, reason := gate.CanExecute(context.Background(), 5_000, "leverage_loop", snap)
	if !ok {
		t.Errorf("expected approval, got rejection: %s", reason)
	}

	// Non-positive amounts are rejected.
	ok, _ = gate.CanExecute(context.Background(), 0, "leverage_loop", snap)
	if ok {
		t.Error("expected rejection for zero amount")
	}
	ok, _ = gate.CanExecute(context.Background(), -100, "leverage_loop", snap)
	if ok {
		t.Error("expected rejection for negative amount")
	}

	// Rejected when the operating balance would drop below the minimum.
	ok, _ = gate.CanExecute(context.Background(), 59_950, "leverage_loop", snap)
	if ok {
		t.Error("expected rejection when dropping below minimum operating balance")
	}

	// Rejected when total exposure would exceed the cap.
	ok, _ = gate.CanExecute(context.Background(), 15_000, "leverage_loop", snap)
	if ok {
		t.Error("expected rejection when exceeding max total exposure")
	}

	// Rejected when the active-loop limit is reached, for loop operations only.
	full := snap
	full.ActiveLoops = policy.MaxActiveLoops
	ok, _ = gate.CanExecute(context.Background(), 5_000, "leverage_loop", full)
	if ok {
		t.Error("expected rejection at max active loops")
	}
	ok, reason = gate.CanExecute(context.Background(), 5_000, "rebalance", full)
	if !ok {
		t.Errorf("expected non-loop operation to pass loop-count limit, got: %s", reason)
	}
}

func TestPortfolioGateNoExposureCap(t *testing.T) {
	policy := DefaultPolicy() // MaxTotalExposureUSD zero means uncapped
	gate := NewPortfolioGate(policy, noopLogger{})

	snap := ports.PortfolioSnapshot{
		AvailableUSD:     1_000_000,
		TotalExposureUSD: 900_000,
	}
	ok, reason := gate.CanExecute(context.Background(), 500_000, "leverage_loop", snap)
	if !ok {
		t.Errorf("expected approval with no exposure cap, got: %s", reason)
	}
}
