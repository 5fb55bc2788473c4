package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Protocol Specific Errors
	ErrProtocolUnavailable   = errors.New("lending protocol is unavailable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for operation")
	ErrSlippageExceeded      = errors.New("swap slippage exceeded tolerance")
	ErrSwapFailed            = errors.New("collateral swap failed")
	ErrBorrowFailed          = errors.New("borrow operation failed")
	ErrLendFailed            = errors.New("lend operation failed")
	ErrRepayFailed           = errors.New("repay operation failed")
	ErrWithdrawFailed        = errors.New("withdraw operation failed")
	ErrRateLimited           = errors.New("API rate limit exceeded")
	ErrPriceUnavailable      = errors.New("no price available for asset")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
