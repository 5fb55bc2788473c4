package engine

import (
	"context"

	"defiLoopBot/internal/domain"
)

// recoverActiveLoops rebuilds the in-memory active map from the store after a
// process restart. It performs no borrow/lend/swap calls and is idempotent;
// failure to read the store is logged and treated as zero recovered loops.
func (e *Engine) recoverActiveLoops(ctx context.Context) {
	loops, err := e.store.ActiveLoops(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to load active loops from store; starting with none")
		return
	}

	recovered := 0
	for _, loop := range loops {
		positions, err := e.store.PositionsByLoop(ctx, loop.LoopID)
		if err != nil {
			e.logger.Error(ctx, err, "Failed to load positions for recovered loop; skipping it",
				map[string]interface{}{"loopID": loop.LoopID})
			continue
		}
		loop.Positions = positions

		ratio := domain.HealthyRatioSentinel
		if last := loop.LastPosition(); last != nil {
			ratio = last.CurrentCollateralRatio
		}
		loop.HealthScore = HealthScore(ratio)

		e.mu.Lock()
		e.active[loop.LoopID] = &loopHandle{loop: loop}
		e.mu.Unlock()
		recovered++

		e.logger.Info(ctx, "Recovered active loop", map[string]interface{}{
			"loopID":      loop.LoopID,
			"status":      loop.Status,
			"iterations":  loop.Iterations,
			"exposureUSD": loop.TotalExposureUSD,
			"healthScore": loop.HealthScore,
		})
	}

	if recovered > 0 {
		e.logger.Info(ctx, "Restart recovery complete", map[string]interface{}{"loops": recovered})
	}
}
