package ports

import "errors"

// Standard application-level errors. Adapters wrap underlying
// infrastructure errors with these so callers can branch with errors.Is.
var (
	// General errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Strategy execution errors, recoverable at the per-tick level
	ErrPriceUnavailable     = errors.New("no price available for symbol")
	ErrBelowMinimumQuantity = errors.New("computed quantity below exchange minimum")
	ErrOrderFailed          = errors.New("exchange rejected the order")
	ErrInvalidConfig        = errors.New("invalid strategy configuration")
	ErrInsufficientHistory  = errors.New("not enough candle history for indicator")

	// Exchange infrastructure errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
