package ports

import (
	"context"
	"errors"
)

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
	ErrNoCredentials      = errors.New("no exchange credentials configured")
	ErrFeatureDisabled    = errors.New("feature disabled for user")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrMarginUnsupported    = errors.New("exchange does not support margin trading")
	ErrNoPrice              = errors.New("no price available")
	ErrLowConfidenceFill    = errors.New("fill price not reported by exchange")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrConflict       = errors.New("record was modified concurrently")
	ErrAlreadyClosed  = errors.New("trade already closed")
	ErrSignalTerminal = errors.New("signal already in a terminal state")
)

// ErrorClass groups errors by how the job loop reacts to them.
type ErrorClass string

const (
	ClassTransient   ErrorClass = "transient"    // Retry next tick
	ClassDataQuality ErrorClass = "data_quality" // Skip the entity, degrade gracefully
	ClassBusiness    ErrorClass = "business"     // Normal skip outcome
	ClassExecution   ErrorClass = "execution"    // Order rejected, mark failed
	ClassFatal       ErrorClass = "fatal"        // Task unavailable for this user
)

// Classify maps an error onto the job-loop taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrFeatureDisabled),
		errors.Is(err, ErrConfigurationError), errors.Is(err, ErrInvalidAPIKeys),
		errors.Is(err, ErrAuthenticationFailed):
		return ClassFatal
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrExchangeUnavailable),
		errors.Is(err, ErrDBConnection), errors.Is(err, ErrConflict),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, ErrNoPrice), errors.Is(err, ErrLowConfidenceFill),
		errors.Is(err, ErrNotFound):
		return ClassDataQuality
	case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrSignalTerminal):
		return ClassBusiness
	case errors.Is(err, ErrOrderPlacementFailed), errors.Is(err, ErrOrderCancelFailed),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrMarginUnsupported):
		return ClassExecution
	default:
		return ClassTransient
	}
}
