package ports

import (
	"context"
	"time"
)

// CallStatus classifies the outcome of a protocol operation so the engine's
// control flow (continue vs. stop early) is driven by exhaustive switching
// rather than truthiness checks on loosely-typed returns.
type CallStatus int

const (
	// CallOK means the operation executed on the protocol.
	CallOK CallStatus = iota
	// CallInsufficientLiquidity means the protocol could not service the
	// requested size. A normal negative outcome, not a transport error.
	CallInsufficientLiquidity
	// CallProtocolError means the protocol rejected or failed the operation.
	CallProtocolError
)

// CallResult is the typed result of a borrow/lend/repay/withdraw call.
type CallResult struct {
	Status CallStatus
	TxID   string // Protocol transaction id, set when Status == CallOK
	Reason string // Human-readable detail for non-OK statuses
}

// OK reports whether the call executed successfully.
func (r CallResult) OK() bool { return r.Status == CallOK }

// ProtocolClient executes borrow/lend/repay/withdraw operations against an
// external lending protocol. A non-nil error indicates a transport-level
// failure; protocol-level rejections are reported through CallResult.
type ProtocolClient interface {
	// Borrow takes out amountUSD of the stable asset against collateralAsset
	// on the named protocol.
	Borrow(ctx context.Context, amountUSD float64, collateralAsset, protocol string, slippageBps int) (CallResult, error)
	// Lend deposits amountUSD of asset on the named protocol to earn yield.
	Lend(ctx context.Context, amountUSD float64, asset, protocol string) (CallResult, error)
	// Repay pays back amountUSD of outstanding debt on the named protocol.
	Repay(ctx context.Context, amountUSD float64, protocol string) (CallResult, error)
	// Withdraw pulls amountUSD of previously lent funds from the named protocol.
	Withdraw(ctx context.Context, amountUSD float64, protocol string) (CallResult, error)
}

// SwapClient converts a USD amount of borrowed stable asset into a target
// collateral asset.
type SwapClient interface {
	// SwapToCollateral returns the USD value actually acquired after
	// slippage. A zero value with a nil error means the swap produced
	// nothing usable and the caller should stop compounding.
	SwapToCollateral(ctx context.Context, usdAmount float64, targetAsset string) (float64, error)
}

// PortfolioSnapshot is the state handed to the safety gate when asking
// whether an operation may run.
type PortfolioSnapshot struct {
	TotalValueUSD    float64
	AvailableUSD     float64
	ReservedUSD      float64
	TotalExposureUSD float64
	ActiveLoops      int
}

// SafetyGate is consulted before starting or continuing a leverage loop.
// A false answer is a normal, expected outcome, not an error.
type SafetyGate interface {
	CanExecute(ctx context.Context, amountUSD float64, operation string, snap PortfolioSnapshot) (bool, string)
}

// PriceOracle returns the current USD price for an asset.
type PriceOracle interface {
	Price(ctx context.Context, asset string) (float64, error)
}

// Transaction is one accounting entry recorded for audit and paper-trading
// parity.
type Transaction struct {
	Action    string // "borrow", "swap", "lend", "repay", "withdraw"
	Asset     string
	Amount    float64 // Token units (zero when unknown)
	AmountUSD float64
	Protocol  string
	Agent     string
	Timestamp time.Time
}

// TransactionLog records accounting transactions for every external
// borrow/swap/lend/repay/withdraw the engine performs.
type TransactionLog interface {
	Record(ctx context.Context, tx Transaction) error
}
