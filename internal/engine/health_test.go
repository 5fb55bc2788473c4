package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defiLoopBot/internal/domain"
)

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  float64
	}{
		{"at liquidation threshold", 1.5, 0.0},
		{"below liquidation threshold", 1.2, 0.0},
		{"zero ratio", 0.0, 0.0},
		{"midpoint", 1.75, 0.5},
		{"near top of linear band", 1.9, 0.8},
		{"at healthy sentinel", 2.0, 1.0},
		{"above healthy sentinel", 3.5, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HealthScore(tt.ratio), 1e-9)
		})
	}
}

// seedLoop plants a pre-built loop directly into the engine's active map.
func seedLoop(e *Engine, loop *domain.LeverageLoop) {
	e.mu.Lock()
	e.active[loop.LoopID] = &loopHandle{loop: loop}
	e.mu.Unlock()
}

func twoPositionLoop(token string) *domain.LeverageLoop {
	now := time.Now().UTC()
	loop := &domain.LeverageLoop{
		LoopID:               "loop-test-1",
		InitialCapitalUSD:    1000,
		Iterations:           2,
		MaxIterations:        2,
		CurrentLeverageRatio: 1.3125,
		TotalExposureUSD:     1312.5,
		Status:               domain.LoopCompleted,
		HealthScore:          1.0,
		CreatedAt:            now,
	}
	loop.Positions = []*domain.LeveragePosition{
		{
			PositionID:             "loop-test-1-1",
			LoopID:                 loop.LoopID,
			Iteration:              1,
			CollateralToken:        token,
			CollateralAmountUSD:    1750,
			BorrowedAmountUSD:      750,
			LendingProtocol:        domain.ProtocolSolend,
			BorrowingProtocol:      domain.ProtocolMarginFi,
			LiquidationThreshold:   domain.LiquidationThreshold,
			CurrentCollateralRatio: 1750.0 / 750.0,
			Status:                 domain.StatusActive,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
		{
			PositionID:             "loop-test-1-2",
			LoopID:                 loop.LoopID,
			Iteration:              2,
			CollateralToken:        token,
			CollateralAmountUSD:    2312.5,
			BorrowedAmountUSD:      562.5,
			LendingProtocol:        domain.ProtocolSolend,
			BorrowingProtocol:      domain.ProtocolMarginFi,
			LiquidationThreshold:   domain.LiquidationThreshold,
			CurrentCollateralRatio: 2312.5 / 1312.5,
			Status:                 domain.StatusActive,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
	}
	return loop
}

func TestMonitorLoopHealth_UsesLastPositionRatio(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	score := eng.MonitorLoopHealth(context.Background(), loop.LoopID)
	// Last position ratio is 2312.5/1312.5 ≈ 1.7619.
	assert.InDelta(t, HealthScore(2312.5/1312.5), score, 1e-9)
	assert.InDelta(t, score, loop.HealthScore, 1e-9)
}

func TestMonitorLoopHealth_UnknownLoop(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	score := eng.MonitorLoopHealth(context.Background(), "no-such-loop")
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestMonitorLoopHealth_EmptyLoop(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	loop := &domain.LeverageLoop{LoopID: "loop-empty", Status: domain.LoopActive}
	seedLoop(eng, loop)

	// No positions means no debt, which is perfectly healthy.
	score := eng.MonitorLoopHealth(context.Background(), loop.LoopID)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestUnwindLoop_LIFOOrder(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	ok := eng.UnwindLoop(context.Background(), loop.LoopID, false)
	require.True(t, ok)

	// One consolidated withdrawal of everything lent.
	require.Len(t, d.protocol.withdrawCalls, 1)
	assert.InDelta(t, 1312.5, d.protocol.withdrawCalls[0], 1e-9)

	// Repays run most recent iteration first.
	require.Len(t, d.protocol.repayCalls, 2)
	assert.InDelta(t, 562.5, d.protocol.repayCalls[0], 1e-9)
	assert.InDelta(t, 750.0, d.protocol.repayCalls[1], 1e-9)

	assert.Equal(t, domain.LoopUnwinding, loop.Status)
	assert.Equal(t, domain.LoopUnwinding, d.store.statusUpdates[loop.LoopID])
	assert.Equal(t, []string{"SOL"}, d.store.clearedAssets)
	assert.Nil(t, eng.handle(loop.LoopID))
}

func TestUnwindLoop_PartialRepayFailure(t *testing.T) {
	d := defaultDeps()
	d.protocol.failRepayCall = 2 // Iteration 1's repay fails
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	ok := eng.UnwindLoop(context.Background(), loop.LoopID, false)
	// The withdrawal succeeded, so the unwind as a whole succeeded.
	require.True(t, ok)

	// Iteration 2 closed, iteration 1 left open for a later retry.
	assert.Equal(t, domain.StatusClosed, loop.Positions[1].Status)
	assert.Equal(t, domain.StatusActive, loop.Positions[0].Status)
	assert.Equal(t, []string{"loop-test-1-2"}, d.store.posStatusCalls)
	assert.Equal(t, domain.LoopUnwinding, loop.Status)
}

func TestUnwindLoop_WithdrawFailureAborts(t *testing.T) {
	d := defaultDeps()
	d.protocol.failWithdraw = true
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	ok := eng.UnwindLoop(context.Background(), loop.LoopID, false)
	require.False(t, ok)

	// Nothing repaid, status untouched, loop still active for a retry.
	assert.Empty(t, d.protocol.repayCalls)
	assert.Equal(t, domain.LoopCompleted, loop.Status)
	assert.NotNil(t, eng.handle(loop.LoopID))
}

func TestUnwindLoop_WithdrawTransportError(t *testing.T) {
	d := defaultDeps()
	d.protocol.withdrawErr = errors.New("connection reset")
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	require.False(t, eng.UnwindLoop(context.Background(), loop.LoopID, false))
	assert.Empty(t, d.protocol.repayCalls)
}

func TestUnwindLoop_SkipsClosedPositions(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	loop.Positions[1].Status = domain.StatusClosed // Already repaid by an earlier attempt
	seedLoop(eng, loop)

	ok := eng.UnwindLoop(context.Background(), loop.LoopID, false)
	require.True(t, ok)

	// Only the still-open position is repaid; no double repayment.
	require.Len(t, d.protocol.repayCalls, 1)
	assert.InDelta(t, 750.0, d.protocol.repayCalls[0], 1e-9)
}

func TestUnwindLoop_UnknownLoop(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	assert.False(t, eng.UnwindLoop(context.Background(), "no-such-loop", false))
	assert.Empty(t, d.protocol.withdrawCalls)
}

func TestUnwindLoop_Emergency(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	loop := twoPositionLoop("SOL")
	seedLoop(eng, loop)

	require.True(t, eng.UnwindLoop(context.Background(), loop.LoopID, true))
	assert.Equal(t, domain.LoopEmergency, loop.Status)
	assert.Equal(t, domain.LoopEmergency, d.store.statusUpdates[loop.LoopID])
}

func TestEmergencyUnwindAll(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	a := twoPositionLoop("SOL")
	a.LoopID = "loop-a"
	b := twoPositionLoop("mSOL")
	b.LoopID = "loop-b"
	for _, p := range b.Positions {
		p.LoopID = b.LoopID
		p.CollateralToken = "mSOL"
	}
	seedLoop(eng, a)
	seedLoop(eng, b)

	unwound := eng.EmergencyUnwindAll(context.Background())
	assert.Equal(t, 2, unwound)
	assert.Empty(t, eng.ActiveLoopIDs())
	assert.Equal(t, domain.LoopEmergency, a.Status)
	assert.Equal(t, domain.LoopEmergency, b.Status)
}

func TestEmergencyUnwindAll_NoLoops(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	assert.Equal(t, 0, eng.EmergencyUnwindAll(context.Background()))
}
