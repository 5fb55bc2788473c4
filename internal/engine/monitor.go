package engine

import (
	"context"
	"time"
)

// RunMonitor periodically recomputes the health score of every active loop
// and commands an unwind when a score falls below the policy thresholds:
// graceful below the unwind threshold, forced below the emergency threshold.
// It blocks until ctx is canceled. Loops are checked independently; a stuck
// external call blocks only that loop's progress.
func (e *Engine) RunMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	e.logger.Info(ctx, "Health monitor started", map[string]interface{}{"interval": interval.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Health monitor stopped")
			return
		case <-ticker.C:
			e.checkLoops(ctx)
		}
	}
}

// checkLoops runs one monitoring sweep over a snapshot of the active loops.
func (e *Engine) checkLoops(ctx context.Context) {
	for _, id := range e.ActiveLoopIDs() {
		score := e.MonitorLoopHealth(ctx, id)
		switch {
		case score <= e.cfg.Policy.EmergencyThreshold:
			e.logger.Warn(ctx, "Loop health critical, forcing emergency unwind", map[string]interface{}{
				"loopID": id,
				"score":  score,
			})
			e.UnwindLoop(ctx, id, true)
		case score <= e.cfg.Policy.UnwindThreshold:
			e.logger.Info(ctx, "Loop health degraded, unwinding gracefully", map[string]interface{}{
				"loopID": id,
				"score":  score,
			})
			e.UnwindLoop(ctx, id, false)
		}
	}
}
