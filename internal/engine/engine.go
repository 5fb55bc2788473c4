package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"defiLoopBot/internal/domain"
	"defiLoopBot/internal/ports"
	"defiLoopBot/internal/risk"
)

// Config holds configuration for the leverage engine.
type Config struct {
	BorrowingProtocol   string // Default protocol for borrows
	LendingProtocol     string // Default protocol for the consolidated lend
	RecursiveSwap       bool   // Swap borrowed stables back into collateral
	SlippageBps         int    // Slippage tolerance passed to borrow calls
	AgentTag            string // Tag recorded on accounting transactions
	OperatingCapitalUSD float64
	Policy              risk.Policy
}

// Deps are the external collaborators the engine orchestrates.
type Deps struct {
	Logger   ports.Logger
	Store    ports.LoopStore
	Protocol ports.ProtocolClient
	Swap     ports.SwapClient
	Gate     ports.SafetyGate
	Oracle   ports.PriceOracle
	TxLog    ports.TransactionLog
}

// Engine owns the in-memory active-loops map for the lifetime of the process.
// The loop store is the durable backing copy, written on every state
// transition so the map can be rebuilt after a crash. Construct exactly one
// Engine per process and pass it explicitly to whatever orchestrator needs it.
type Engine struct {
	cfg      Config
	logger   ports.Logger
	store    ports.LoopStore
	protocol ports.ProtocolClient
	swap     ports.SwapClient
	gate     ports.SafetyGate
	oracle   ports.PriceOracle
	txLog    ports.TransactionLog
	sizer    *risk.Sizer

	mu      sync.Mutex // Protects active and history
	active  map[string]*loopHandle
	history []*domain.LeverageLoop
}

// loopHandle serializes all mutation of one loop: a borrow iteration and an
// unwind can never interleave on the same loop.
type loopHandle struct {
	mu   sync.Mutex
	loop *domain.LeverageLoop
}

// New creates the engine and recovers all active loops from the store so
// monitoring resumes seamlessly after a restart. Recovery is read-only with
// respect to external protocols; a store read failure means zero loops
// recovered, never a startup failure.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Logger == nil || deps.Store == nil || deps.Protocol == nil ||
		deps.Swap == nil || deps.Gate == nil || deps.Oracle == nil || deps.TxLog == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if err := cfg.Policy.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid risk policy: %w", err)
	}
	if cfg.BorrowingProtocol == "" {
		cfg.BorrowingProtocol = domain.ProtocolMarginFi
	}
	if cfg.LendingProtocol == "" {
		cfg.LendingProtocol = domain.ProtocolSolend
	}
	if cfg.AgentTag == "" {
		cfg.AgentTag = "leverage-engine"
	}

	e := &Engine{
		cfg:      cfg,
		logger:   deps.Logger,
		store:    deps.Store,
		protocol: deps.Protocol,
		swap:     deps.Swap,
		gate:     deps.Gate,
		oracle:   deps.Oracle,
		txLog:    deps.TxLog,
		sizer:    risk.NewSizer(cfg.Policy, deps.Logger),
		active:   make(map[string]*loopHandle),
	}
	e.recoverActiveLoops(context.Background())
	return e, nil
}

// LoopRequest describes a capital deployment.
type LoopRequest struct {
	InitialCapitalUSD float64
	CollateralToken   string // e.g. "SOL", "mSOL"
	Sentiment         domain.Sentiment
	TargetIterations  int    // Caller's ceiling; clamped by safe sizing
	BorrowingProtocol string // Optional override of the engine default
	LendingProtocol   string // Optional override of the engine default
}

// iterationOutcome drives the early-exit control flow of the borrow loop.
type iterationOutcome int

const (
	iterationContinue iterationOutcome = iota
	// iterationStopPartial ends the borrow phase early. Everything already
	// persisted stays valid; the loop finalizes as partial.
	iterationStopPartial
)

// loopRun is the mutable state threaded through one deployment attempt.
type loopRun struct {
	loop               *domain.LeverageLoop
	token              string
	borrowingProtocol  string
	lendingProtocol    string
	totalCollateralUSD float64
	debtUSD            float64
	positionIDs        []string
}

// ExecuteLeverageLoop runs the recursive leverage strategy: safety gate
// check, leverage sizing, then up to N iterations of borrow-and-swap, each
// persisted, followed by a single consolidated lend of all borrowed capital.
//
// A (nil, nil) return means the safety gate rejected the deployment: a
// normal negative outcome with nothing committed. A non-nil error likewise
// means nothing beyond what the store already holds was committed. A non-nil
// loop may be completed or partial; partial completion is not an error and
// is never rolled back.
func (e *Engine) ExecuteLeverageLoop(ctx context.Context, req LoopRequest) (*domain.LeverageLoop, error) {
	op := "ExecuteLeverageLoop"
	if req.InitialCapitalUSD <= 0 {
		return nil, fmt.Errorf("%s: initial capital must be positive: %w", op, ports.ErrInvalidRequest)
	}
	if req.CollateralToken == "" {
		return nil, fmt.Errorf("%s: collateral token is required: %w", op, ports.ErrInvalidRequest)
	}

	// 1. Safety gate. Rejection is expected behavior, not an error.
	snap := e.portfolioSnapshot()
	if ok, reason := e.gate.CanExecute(ctx, req.InitialCapitalUSD, "leverage_loop", snap); !ok {
		e.logger.Info(ctx, op+": Rejected by safety gate", map[string]interface{}{
			"capitalUSD": req.InitialCapitalUSD,
			"reason":     reason,
		})
		return nil, nil
	}

	// 2. Safe leverage sizing, clamped by the caller's target.
	maxLeverage, iterations := e.sizer.SafeLeverage(ctx,
		map[string]float64{req.CollateralToken: req.InitialCapitalUSD}, req.Sentiment)
	if req.TargetIterations > 0 && req.TargetIterations < iterations {
		iterations = req.TargetIterations
	}

	run := &loopRun{
		token:              req.CollateralToken,
		borrowingProtocol:  req.BorrowingProtocol,
		lendingProtocol:    req.LendingProtocol,
		totalCollateralUSD: req.InitialCapitalUSD,
	}
	if run.borrowingProtocol == "" {
		run.borrowingProtocol = e.cfg.BorrowingProtocol
	}
	if run.lendingProtocol == "" {
		run.lendingProtocol = e.cfg.LendingProtocol
	}

	// 3. Create and persist the loop record before any protocol call.
	loop := &domain.LeverageLoop{
		LoopID:               newLoopID(),
		InitialCapitalUSD:    req.InitialCapitalUSD,
		MaxIterations:        iterations,
		CurrentLeverageRatio: 1.0,
		Status:               domain.LoopActive,
		HealthScore:          1.0,
		CreatedAt:            time.Now().UTC(),
	}
	if err := e.store.SaveLoop(ctx, loop); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist new loop")
		return nil, fmt.Errorf("%s: failed to persist loop: %w", op, err)
	}
	run.loop = loop
	e.logger.Info(ctx, op+": Loop created", map[string]interface{}{
		"loopID":      loop.LoopID,
		"capitalUSD":  req.InitialCapitalUSD,
		"token":       req.CollateralToken,
		"sentiment":   req.Sentiment,
		"iterations":  iterations,
		"maxLeverage": maxLeverage,
	})

	// 4. Borrow/swap iterations.
	for i := 1; i <= iterations; i++ {
		if e.runIteration(ctx, run, i) == iterationStopPartial {
			break
		}
	}

	// 5. Single consolidated lend of the full borrowed amount. Lend failure
	// is a known risk window: the debt is real even though it isn't earning
	// yield, so the loop still finalizes.
	if run.debtUSD > 0 {
		res, err := e.protocol.Lend(ctx, run.debtUSD, domain.StableAsset, run.lendingProtocol)
		if err != nil || !res.OK() {
			e.logger.Warn(ctx, op+": Consolidated lend failed; borrowed capital remains unlent", map[string]interface{}{
				"loopID":    loop.LoopID,
				"amountUSD": run.debtUSD,
				"protocol":  run.lendingProtocol,
				"reason":    lendFailureReason(res, err),
			})
		} else {
			e.recordTx(ctx, "lend", domain.StableAsset, 0, run.debtUSD, run.lendingProtocol)
		}
	}

	// 6. Finalize status and publish to the active map.
	loop.CurrentLeverageRatio = run.debtUSD / loop.InitialCapitalUSD
	if loop.Iterations == loop.MaxIterations {
		loop.Status = domain.LoopCompleted
	} else {
		loop.Status = domain.LoopPartial
	}
	if err := e.store.UpdateLoop(ctx, loop); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist final loop state", map[string]interface{}{"loopID": loop.LoopID})
	}

	e.mu.Lock()
	e.active[loop.LoopID] = &loopHandle{loop: loop}
	e.mu.Unlock()

	e.logger.Info(ctx, op+": Loop finalized", map[string]interface{}{
		"loopID":        loop.LoopID,
		"status":        loop.Status,
		"iterations":    loop.Iterations,
		"exposureUSD":   loop.TotalExposureUSD,
		"leverageRatio": loop.CurrentLeverageRatio,
	})
	return loop, nil
}

// runIteration performs one borrow/swap step and persists the resulting
// position atomically with the loop totals and reserved-balance update.
func (e *Engine) runIteration(ctx context.Context, run *loopRun, iteration int) iterationOutcome {
	op := "runIteration"

	// a. Remaining capacity under the fixed loan-to-value ceiling.
	maxBorrowingPower := run.totalCollateralUSD * domain.MaxLoanToValue
	capacity := maxBorrowingPower - run.debtUSD
	if capacity <= 0 {
		e.logger.Info(ctx, op+": No remaining borrow capacity, stopping early", map[string]interface{}{
			"loopID":    run.loop.LoopID,
			"iteration": iteration,
		})
		return iterationStopPartial
	}

	// b. Use the entire remaining capacity this iteration. This compounds
	// leverage as fast as the LTV ceiling allows instead of spreading
	// borrowing evenly across iterations.
	borrowUSD := math.Min(capacity, maxBorrowingPower)

	// c. External borrow.
	res, err := e.protocol.Borrow(ctx, borrowUSD, run.token, run.borrowingProtocol, e.cfg.SlippageBps)
	if err != nil {
		e.logger.Error(ctx, err, op+": Borrow call failed, stopping early", map[string]interface{}{
			"loopID":    run.loop.LoopID,
			"iteration": iteration,
			"amountUSD": borrowUSD,
		})
		return iterationStopPartial
	}
	switch res.Status {
	case ports.CallOK:
		// proceed
	case ports.CallInsufficientLiquidity:
		e.logger.Info(ctx, op+": Protocol reports insufficient liquidity, stopping early", map[string]interface{}{
			"loopID":    run.loop.LoopID,
			"iteration": iteration,
			"amountUSD": borrowUSD,
			"reason":    res.Reason,
		})
		return iterationStopPartial
	case ports.CallProtocolError:
		e.logger.Warn(ctx, op+": Protocol rejected borrow, stopping early", map[string]interface{}{
			"loopID":    run.loop.LoopID,
			"iteration": iteration,
			"amountUSD": borrowUSD,
			"reason":    res.Reason,
		})
		return iterationStopPartial
	}

	// d. Debt is incurred. From here on the iteration is recorded even if
	// the swap fails: the borrow is real and is never rolled back.
	run.debtUSD += borrowUSD
	e.recordTx(ctx, "borrow", domain.StableAsset, 0, borrowUSD, run.borrowingProtocol)

	// e. Recursive swap: borrowed stables become new collateral.
	swapFailed := false
	if e.cfg.RecursiveSwap {
		receivedUSD, swapErr := e.swap.SwapToCollateral(ctx, borrowUSD, run.token)
		if swapErr != nil || receivedUSD <= 0 {
			swapFailed = true
			e.logger.Warn(ctx, op+": Collateral swap failed; keeping incurred debt and stopping early", map[string]interface{}{
				"loopID":    run.loop.LoopID,
				"iteration": iteration,
				"amountUSD": borrowUSD,
				"error":     fmt.Sprintf("%v", swapErr),
			})
		} else {
			run.totalCollateralUSD += receivedUSD
			e.recordTx(ctx, "swap", run.token, 0, receivedUSD, domain.ProtocolJupiter)
		}
	}

	// f. Collateral ratio at this point in the loop.
	ratio := domain.HealthyRatioSentinel
	if run.debtUSD > 0 {
		ratio = run.totalCollateralUSD / run.debtUSD
	}

	// g. Persist the position together with the loop totals and the
	// reserved-balance bookkeeping. The loop record only advances once the
	// write succeeds: the durable totals must always match the persisted
	// position rows, or restart recovery rebuilds a loop whose exposure
	// disagrees with its positions.
	prevIterations := run.loop.Iterations
	prevLeverage := run.loop.CurrentLeverageRatio
	prevExposure := run.loop.TotalExposureUSD
	now := time.Now().UTC()
	pos := &domain.LeveragePosition{
		PositionID:             fmt.Sprintf("%s-%d", run.loop.LoopID, iteration),
		LoopID:                 run.loop.LoopID,
		Iteration:              iteration,
		CollateralToken:        run.token,
		CollateralAmountUSD:    run.totalCollateralUSD,
		BorrowedAmountUSD:      borrowUSD,
		LendingProtocol:        run.lendingProtocol,
		BorrowingProtocol:      run.borrowingProtocol,
		LiquidationThreshold:   domain.LiquidationThreshold,
		CurrentCollateralRatio: ratio,
		Status:                 domain.StatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	run.loop.Positions = append(run.loop.Positions, pos)
	run.loop.Iterations = iteration
	run.loop.CurrentLeverageRatio = run.debtUSD / run.loop.InitialCapitalUSD
	run.loop.TotalExposureUSD = run.debtUSD
	run.positionIDs = append(run.positionIDs, pos.PositionID)

	if err := e.store.SaveIteration(ctx, run.loop, pos, e.reservedBalance(ctx, run)); err != nil {
		// Drop the unpersisted iteration from the loop accounting. The
		// external borrow (and swap) already happened and cannot be taken
		// back here; it is surfaced for manual reconciliation instead of
		// being recorded as exposure the position rows cannot explain.
		run.loop.Positions = run.loop.Positions[:len(run.loop.Positions)-1]
		run.loop.Iterations = prevIterations
		run.loop.CurrentLeverageRatio = prevLeverage
		run.loop.TotalExposureUSD = prevExposure
		run.positionIDs = run.positionIDs[:len(run.positionIDs)-1]
		run.debtUSD -= borrowUSD
		e.logger.Error(ctx, err, op+": Failed to persist iteration, stopping early; borrow needs manual reconciliation", map[string]interface{}{
			"loopID":            run.loop.LoopID,
			"positionID":        pos.PositionID,
			"orphanedBorrowUSD": borrowUSD,
		})
		return iterationStopPartial
	}
	e.logger.Info(ctx, op+": Iteration complete", map[string]interface{}{
		"loopID":        run.loop.LoopID,
		"iteration":     iteration,
		"borrowedUSD":   borrowUSD,
		"collateralUSD": run.totalCollateralUSD,
		"ratio":         ratio,
	})

	if swapFailed {
		return iterationStopPartial
	}
	return iterationContinue
}

// reservedBalance builds the earmark for the loop's collateral asset. Token
// units are derived from the oracle price on a best-effort basis; the USD
// figure is authoritative.
func (e *Engine) reservedBalance(ctx context.Context, run *loopRun) ports.ReservedBalance {
	var amount float64
	price, err := e.oracle.Price(ctx, run.token)
	if err != nil || price <= 0 {
		e.logger.Debug(ctx, "No oracle price for reserved-balance token units", map[string]interface{}{
			"asset": run.token,
		})
	} else {
		amount = run.totalCollateralUSD / price
	}
	return ports.ReservedBalance{
		Asset:       run.token,
		Amount:      amount,
		AmountUSD:   run.totalCollateralUSD,
		Reason:      "leverage_loop",
		PositionIDs: append([]string(nil), run.positionIDs...),
	}
}

// portfolioSnapshot summarizes the engine's view of committed capital for
// the safety gate.
func (e *Engine) portfolioSnapshot() ports.PortfolioSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	var exposure float64
	for _, h := range e.active {
		exposure += h.loop.TotalExposureUSD
	}
	available := e.cfg.OperatingCapitalUSD - exposure
	if available < 0 {
		available = 0
	}
	return ports.PortfolioSnapshot{
		TotalValueUSD:    e.cfg.OperatingCapitalUSD,
		AvailableUSD:     available,
		ReservedUSD:      exposure,
		TotalExposureUSD: exposure,
		ActiveLoops:      len(e.active),
	}
}

// ActiveLoopIDs returns a sorted snapshot of the active loop ids.
func (e *Engine) ActiveLoopIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// handle returns the handle for an active loop, or nil.
func (e *Engine) handle(loopID string) *loopHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[loopID]
}

// recordTx appends an accounting transaction; log failures are warnings, not
// reasons to interrupt a deployment or unwind.
func (e *Engine) recordTx(ctx context.Context, action, asset string, amount, amountUSD float64, protocol string) {
	tx := ports.Transaction{
		Action:    action,
		Asset:     asset,
		Amount:    amount,
		AmountUSD: amountUSD,
		Protocol:  protocol,
		Agent:     e.cfg.AgentTag,
		Timestamp: time.Now().UTC(),
	}
	if err := e.txLog.Record(ctx, tx); err != nil {
		e.logger.Warn(ctx, "Failed to record accounting transaction", map[string]interface{}{
			"action": action,
			"asset":  asset,
			"error":  err.Error(),
		})
	}
}

func lendFailureReason(res ports.CallResult, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Reason
}

// newLoopID builds a time-derived id with a random suffix to stay unique
// across restarts within the same second.
func newLoopID() string {
	return fmt.Sprintf("loop-%d-%s", time.Now().UTC().Unix(), uuid.NewString()[:8])
}
