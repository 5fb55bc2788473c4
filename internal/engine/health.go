package engine

import (
	"context"
	"fmt"
	"time"

	"defiLoopBot/internal/domain"
)

// HealthScore maps a collateral ratio onto [0,1]. Ratios at or above the
// healthy sentinel score 1.0; ratios below the liquidation threshold score
// 0.0; in between the score is linear.
func HealthScore(ratio float64) float64 {
	switch {
	case ratio >= domain.HealthyRatioSentinel:
		return 1.0
	case ratio >= domain.LiquidationThreshold:
		return (ratio - domain.LiquidationThreshold) / (domain.HealthyRatioSentinel - domain.LiquidationThreshold)
	default:
		return 0.0
	}
}

// MonitorLoopHealth recomputes and stores the health score of an active loop
// from its most recent position's collateral ratio, which reflects the
// cumulative state of the whole loop. It sits on the periodic monitoring
// path and therefore never panics: any internal failure yields 0.5, assume
// medium risk.
func (e *Engine) MonitorLoopHealth(ctx context.Context, loopID string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("panic in health monitoring: %v", r),
				"Health monitoring failed, assuming medium risk", map[string]interface{}{"loopID": loopID})
			score = 0.5
		}
	}()

	h := e.handle(loopID)
	if h == nil {
		e.logger.Warn(ctx, "Health check requested for unknown loop, assuming medium risk",
			map[string]interface{}{"loopID": loopID})
		return 0.5
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ratio := domain.HealthyRatioSentinel
	if last := h.loop.LastPosition(); last != nil {
		ratio = last.CurrentCollateralRatio
	}
	score = HealthScore(ratio)
	h.loop.HealthScore = score

	e.logger.Debug(ctx, "Loop health computed", map[string]interface{}{
		"loopID": loopID,
		"ratio":  ratio,
		"score":  score,
	})
	return score
}

// UnwindLoop unwinds an active loop: one consolidated withdrawal of the full
// lent amount, then LIFO repayment of each position's incremental borrow.
//
// Withdrawal failure aborts the whole attempt and returns false: nothing has
// been repaid yet, so the loop stays in its pre-unwind status for a future
// retry. Individual repay failures are tolerated: the position stays active
// for a later retry while the remaining positions proceed. The return value
// reflects the withdrawal alone. Already-closed positions are skipped, so
// repeating an unwind never double-repays.
func (e *Engine) UnwindLoop(ctx context.Context, loopID string, emergency bool) (ok bool) {
	op := "UnwindLoop"
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("panic during unwind: %v", r),
				op+": Unwind failed", map[string]interface{}{"loopID": loopID})
			ok = false
		}
	}()

	h := e.handle(loopID)
	if h == nil {
		e.logger.Warn(ctx, op+": Loop is not active", map[string]interface{}{"loopID": loopID})
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	loop := h.loop
	if loop.Status.IsTerminal() {
		return false
	}

	e.logger.Info(ctx, op+": Starting unwind", map[string]interface{}{
		"loopID":    loopID,
		"emergency": emergency,
		"positions": len(loop.Positions),
	})

	// Step 1: single consolidated withdrawal of everything that was lent.
	lendingProtocol := e.cfg.LendingProtocol
	if last := loop.LastPosition(); last != nil {
		lendingProtocol = last.LendingProtocol
	}
	totalBorrowedUSD := loop.TotalBorrowedUSD()
	if totalBorrowedUSD > 0 {
		res, err := e.protocol.Withdraw(ctx, totalBorrowedUSD, lendingProtocol)
		if err != nil {
			e.logger.Error(ctx, err, op+": Withdrawal failed, aborting unwind", map[string]interface{}{
				"loopID":    loopID,
				"amountUSD": totalBorrowedUSD,
				"protocol":  lendingProtocol,
			})
			return false
		}
		if !res.OK() {
			e.logger.Error(ctx, fmt.Errorf("withdraw rejected: %s", res.Reason),
				op+": Withdrawal rejected, aborting unwind", map[string]interface{}{
					"loopID":    loopID,
					"amountUSD": totalBorrowedUSD,
					"protocol":  lendingProtocol,
				})
			return false
		}
		e.recordTx(ctx, "withdraw", domain.StableAsset, 0, totalBorrowedUSD, lendingProtocol)
	}

	// Step 2: LIFO repayment, most recent iteration first. One failed repay
	// does not abort the rest.
	for i := len(loop.Positions) - 1; i >= 0; i-- {
		pos := loop.Positions[i]
		if !pos.IsActive() {
			continue
		}
		res, err := e.protocol.Repay(ctx, pos.BorrowedAmountUSD, pos.BorrowingProtocol)
		if err != nil || !res.OK() {
			e.logger.Warn(ctx, op+": Repay failed, position left open for retry", map[string]interface{}{
				"loopID":     loopID,
				"positionID": pos.PositionID,
				"amountUSD":  pos.BorrowedAmountUSD,
				"reason":     lendFailureReason(res, err),
			})
			continue
		}
		pos.Status = domain.StatusClosed
		pos.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdatePositionStatus(ctx, pos.PositionID, domain.StatusClosed); err != nil {
			e.logger.Error(ctx, err, op+": Failed to persist closed position", map[string]interface{}{
				"positionID": pos.PositionID,
			})
		}
		e.recordTx(ctx, "repay", domain.StableAsset, 0, pos.BorrowedAmountUSD, pos.BorrowingProtocol)
	}

	// Step 3: persist the terminal status, release the earmarked capital and
	// retire the loop to history.
	status := domain.LoopUnwinding
	if emergency {
		status = domain.LoopEmergency
	}
	loop.Status = status
	if err := e.store.UpdateLoopStatus(ctx, loopID, status); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist terminal loop status", map[string]interface{}{"loopID": loopID})
	}
	for _, asset := range loop.CollateralTokens() {
		if err := e.store.ClearReservedBalance(ctx, asset); err != nil {
			e.logger.Error(ctx, err, op+": Failed to clear reserved balance", map[string]interface{}{"asset": asset})
		}
	}

	e.mu.Lock()
	delete(e.active, loopID)
	e.history = append(e.history, loop)
	e.mu.Unlock()

	e.logger.Info(ctx, op+": Unwind complete", map[string]interface{}{
		"loopID": loopID,
		"status": status,
	})
	return true
}

// EmergencyUnwindAll force-unwinds every active loop and returns the number
// of successful unwinds. Used as a circuit-breaker when upstream capital
// checks detect insufficient operating capital.
func (e *Engine) EmergencyUnwindAll(ctx context.Context) int {
	ids := e.ActiveLoopIDs()
	if len(ids) == 0 {
		return 0
	}
	e.logger.Warn(ctx, "Emergency unwind of all active loops", map[string]interface{}{"count": len(ids)})

	unwound := 0
	for _, id := range ids {
		if e.UnwindLoop(ctx, id, true) {
			unwound++
		}
	}
	return unwound
}

// LoopDetail is the per-loop entry of Summary.
type LoopDetail struct {
	LoopID           string
	Status           domain.LoopStatus
	Iterations       int
	MaxIterations    int
	LeverageRatio    float64
	TotalExposureUSD float64
	HealthScore      float64
	CollateralTokens []string
	CreatedAt        time.Time
}

// Summary aggregates the engine's active loops.
type Summary struct {
	Count            int
	TotalExposureUSD float64
	TotalPositions   int
	AverageLeverage  float64
	Loops            []LoopDetail
}

// ActiveLoopsSummary returns a consistent snapshot of all active loops.
func (e *Engine) ActiveLoopsSummary() Summary {
	ids := e.ActiveLoopIDs()

	s := Summary{Loops: make([]LoopDetail, 0, len(ids))}
	var leverageSum float64
	for _, id := range ids {
		h := e.handle(id)
		if h == nil {
			continue // Unwound between snapshot and lookup
		}
		h.mu.Lock()
		loop := h.loop
		detail := LoopDetail{
			LoopID:           loop.LoopID,
			Status:           loop.Status,
			Iterations:       loop.Iterations,
			MaxIterations:    loop.MaxIterations,
			LeverageRatio:    loop.CurrentLeverageRatio,
			TotalExposureUSD: loop.TotalExposureUSD,
			HealthScore:      loop.HealthScore,
			CollateralTokens: loop.CollateralTokens(),
			CreatedAt:        loop.CreatedAt,
		}
		s.TotalExposureUSD += loop.TotalExposureUSD
		s.TotalPositions += len(loop.Positions)
		leverageSum += loop.CurrentLeverageRatio
		h.mu.Unlock()

		s.Loops = append(s.Loops, detail)
	}
	s.Count = len(s.Loops)
	if s.Count > 0 {
		s.AverageLeverage = leverageSum / float64(s.Count)
	}
	return s
}
