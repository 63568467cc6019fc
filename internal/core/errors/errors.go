package errors

import stderrors "errors"

// Failure taxonomy shared by the pipeline and the query service.
var (
	// ErrMalformedEvent marks a message that can never be processed. Acked, never retried.
	ErrMalformedEvent = stderrors.New("malformed event")

	// ErrTransientStore marks aggregate or ledger I/O failures worth retrying.
	ErrTransientStore = stderrors.New("transient store failure")

	// ErrExhaustedRetries marks a message moved to the dead-letter sink.
	ErrExhaustedRetries = stderrors.New("retries exhausted")

	// ErrCacheUnavailable marks cache I/O failures. Callers degrade to the store.
	ErrCacheUnavailable = stderrors.New("cache unavailable")

	// ErrInsufficientHistory is informational: forecasts still return an estimate.
	ErrInsufficientHistory = stderrors.New("insufficient history")

	// ErrInvalidQueryRange marks caller input errors. Rejected immediately.
	ErrInvalidQueryRange = stderrors.New("invalid query")
)

const (
	HttpInvalidQueryError = "invalid_query"
	HttpInvalidEventError = "invalid_event"
	HttpUnknownEventError = "unknown_event_type"
	HttpInternalError     = "internal_error"
	HttpUnavailableError  = "unavailable"
)

// ErrorResponse is the error body of every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// IsRetryable reports whether err should be retried before dead-lettering.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrMalformedEvent) || stderrors.Is(err, ErrInvalidQueryRange) {
		return false
	}
	return true
}
