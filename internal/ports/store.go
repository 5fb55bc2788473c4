package ports

import (
	"context"

	"defiLoopBot/internal/domain"
)

// ReservedBalance describes capital earmarked for active DeFi positions so
// that other subsystems see it as committed rather than free.
type ReservedBalance struct {
	Asset       string
	Amount      float64 // Token units
	AmountUSD   float64
	Reason      string
	PositionIDs []string
}

// LoopStore defines the durable backing store for leverage loops and their
// positions. The in-memory active-loops map is rebuilt from it after a
// process restart.
type LoopStore interface {
	// SaveLoop persists a newly created loop record.
	SaveLoop(ctx context.Context, loop *domain.LeverageLoop) error
	// UpdateLoop persists a loop's running totals and status.
	UpdateLoop(ctx context.Context, loop *domain.LeverageLoop) error
	// UpdateLoopStatus updates only the status of a loop.
	UpdateLoopStatus(ctx context.Context, loopID string, status domain.LoopStatus) error

	// SavePosition persists a newly created position.
	SavePosition(ctx context.Context, pos *domain.LeveragePosition) error
	// UpdatePositionStatus updates only the status of a position.
	UpdatePositionStatus(ctx context.Context, positionID string, status domain.PositionStatus) error

	// SaveIteration persists one borrow iteration atomically: the new
	// position, the loop's updated running totals, and the accompanying
	// reserved-balance update are written in a single transaction so capital
	// never appears free while actually committed.
	SaveIteration(ctx context.Context, loop *domain.LeverageLoop, pos *domain.LeveragePosition, rb ReservedBalance) error

	// ActiveLoops retrieves all loops whose status is non-terminal.
	ActiveLoops(ctx context.Context) ([]*domain.LeverageLoop, error)
	// PositionsByLoop retrieves all positions of a loop ordered by iteration.
	PositionsByLoop(ctx context.Context, loopID string) ([]*domain.LeveragePosition, error)

	// UpdateReservedBalance upserts the earmarked balance for an asset.
	UpdateReservedBalance(ctx context.Context, rb ReservedBalance) error
	// ClearReservedBalance removes the earmarked balance for an asset.
	ClearReservedBalance(ctx context.Context, asset string) error
}
