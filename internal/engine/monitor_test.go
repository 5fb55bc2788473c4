package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defiLoopBot/internal/domain"
)

func TestCheckLoops_UnwindsUnhealthy(t *testing.T) {
	d := defaultDeps()
	eng := newTestEngine(t, Config{}, d)

	healthy := twoPositionLoop("SOL")
	healthy.LoopID = "loop-healthy" // Last ratio ≈ 1.76, score ≈ 0.52

	degraded := twoPositionLoop("mSOL")
	degraded.LoopID = "loop-degraded"
	degraded.Positions[1].CurrentCollateralRatio = 1.6 // Score 0.2, below unwind threshold 0.3

	critical := twoPositionLoop("jitoSOL")
	critical.LoopID = "loop-critical"
	critical.Positions[1].CurrentCollateralRatio = 1.5 // Score 0.0, below emergency threshold 0.1

	seedLoop(eng, healthy)
	seedLoop(eng, degraded)
	seedLoop(eng, critical)

	eng.checkLoops(context.Background())

	require.Equal(t, []string{"loop-healthy"}, eng.ActiveLoopIDs())
	assert.Equal(t, domain.LoopUnwinding, degraded.Status)
	assert.Equal(t, domain.LoopEmergency, critical.Status)
	assert.Equal(t, domain.LoopCompleted, healthy.Status)
}
