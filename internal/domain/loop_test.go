package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopTotalBorrowedUSD(t *testing.T) {
	loop := &LeverageLoop{}
	assert.Equal(t, 0.0, loop.TotalBorrowedUSD())

	loop.Positions = []*LeveragePosition{
		{Iteration: 1, BorrowedAmountUSD: 750},
		{Iteration: 2, BorrowedAmountUSD: 562.5},
		{Iteration: 3, BorrowedAmountUSD: 421.875},
	}
	assert.InDelta(t, 1734.375, loop.TotalBorrowedUSD(), 1e-9)
}

func TestLoopLastPosition(t *testing.T) {
	loop := &LeverageLoop{}
	assert.Nil(t, loop.LastPosition())

	loop.Positions = []*LeveragePosition{
		{Iteration: 1},
		{Iteration: 2},
	}
	assert.Equal(t, 2, loop.LastPosition().Iteration)
}

func TestLoopCollateralTokens(t *testing.T) {
	loop := &LeverageLoop{
		Positions: []*LeveragePosition{
			{CollateralToken: "SOL"},
			{CollateralToken: "SOL"},
			{CollateralToken: "mSOL"},
		},
	}
	assert.Equal(t, []string{"SOL", "mSOL"}, loop.CollateralTokens())
}

func TestLoopStatusTerminal(t *testing.T) {
	tests := []struct {
		status   LoopStatus
		terminal bool
	}{
		{LoopActive, false},
		{LoopCompleted, false},
		{LoopPartial, false},
		{LoopUnwinding, true},
		{LoopEmergency, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.IsTerminal(), "status %s", tt.status)
		loop := &LeverageLoop{Status: tt.status}
		assert.Equal(t, !tt.terminal, loop.IsActive(), "status %s", tt.status)
	}
}

func TestPositionIsActive(t *testing.T) {
	p := &LeveragePosition{Status: StatusActive}
	assert.True(t, p.IsActive())
	p.Status = StatusClosed
	assert.False(t, p.IsActive())
}
