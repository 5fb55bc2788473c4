package domain

// LoopStatus represents the lifecycle state of a leverage loop.
type LoopStatus string

const (
	LoopActive    LoopStatus = "active"    // Deployment in progress
	LoopCompleted LoopStatus = "completed" // All target iterations achieved
	LoopPartial   LoopStatus = "partial"   // Stopped early (capacity or protocol failure)
	LoopUnwinding LoopStatus = "unwinding" // Graceful unwind executed
	LoopEmergency LoopStatus = "emergency" // Forced unwind executed
)

// IsTerminal reports whether the loop has been unwound and retired to history.
// A terminal loop is never mutated again.
func (s LoopStatus) IsTerminal() bool {
	return s == LoopUnwinding || s == LoopEmergency
}

// PositionStatus represents the status of a single borrow/collateral step.
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusClosed PositionStatus = "closed"
)

// Sentiment classifies the current market read used for leverage sizing.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentNeutral Sentiment = "neutral"
	SentimentBearish Sentiment = "bearish"
)

// Known lending/borrowing protocol identifiers.
const (
	ProtocolMarginFi = "marginfi"
	ProtocolSolend   = "solend"
	ProtocolKamino   = "kamino"
	ProtocolJupiter  = "jupiter" // Swap aggregator
)

// StableAsset is the asset borrowed against collateral inside a loop.
const StableAsset = "USDC"
