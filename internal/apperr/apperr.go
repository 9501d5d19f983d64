// Package apperr defines the error taxonomy shared by every service in the
// backbone: validation errors, transient downstream failures, resilience
// barrier rejections, deadline exhaustion, and idempotency conflicts. HTTP
// handlers map these categories to status codes; nothing else in the core
// inspects error strings.
package apperr

import "errors"

// Category classifies an error for the purposes of retry, metrics, and HTTP
// status mapping.
type Category int

const (
	// CategoryUnknown is the zero value; treated as a non-retryable 500.
	CategoryUnknown Category = iota
	// CategoryValidation marks a 4xx that must never be retried.
	CategoryValidation
	// CategoryTransient marks a retryable downstream failure (5xx/network).
	CategoryTransient
	// CategoryBreakerOpen marks a fast-fail from an open circuit breaker.
	CategoryBreakerOpen
	// CategoryBulkheadFull marks a rejection from a saturated bulkhead.
	CategoryBulkheadFull
	// CategoryShed marks a load-shed rejection at the edge.
	CategoryShed
	// CategoryDeadlineExceeded marks a request whose deadline already passed.
	CategoryDeadlineExceeded
	// CategoryIdempotencyConflict marks an in-flight duplicate request.
	CategoryIdempotencyConflict
)

// Error wraps an underlying cause with a Category and an optional retry
// hint (seconds) for clients that want to back off.
type Error struct {
	Category  Category
	Message   string
	RetryHint int // seconds, 0 if not applicable
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error in the given category.
func New(cat Category, message string) *Error {
	return &Error{Category: cat, Message: message}
}

// Wrap constructs an Error in the given category wrapping cause.
func Wrap(cat Category, message string, cause error) *Error {
	return &Error{Category: cat, Message: message, Cause: cause}
}

// WithRetryHint sets the retry-after hint in seconds and returns the error.
func (e *Error) WithRetryHint(seconds int) *Error {
	e.RetryHint = seconds
	return e
}

// CategoryOf extracts the Category from err, or CategoryUnknown if err is
// nil or not an *Error.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	return CategoryUnknown
}

// RetryHintOf extracts the retry-hint seconds from err, or 0 if err is
// nil, not an *Error, or carries no hint.
func RetryHintOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.RetryHint
	}
	return 0
}

// IsRetryable reports whether errors in this category are eligible for the
// retry engine to attempt again. Validation, breaker-open, bulkhead-full,
// shed, and deadline-exceeded errors are all surfaced immediately instead.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient
}

// HTTPStatus maps a Category onto its HTTP status code.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return 400
	case CategoryIdempotencyConflict:
		return 409
	case CategoryBreakerOpen, CategoryBulkheadFull:
		return 503
	case CategoryShed:
		return 429
	case CategoryDeadlineExceeded:
		return 504
	case CategoryTransient:
		return 502
	default:
		return 500
	}
}

// String renders the category as a metric/log label.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryTransient:
		return "transient"
	case CategoryBreakerOpen:
		return "breaker_open"
	case CategoryBulkheadFull:
		return "bulkhead_full"
	case CategoryShed:
		return "shed"
	case CategoryDeadlineExceeded:
		return "deadline_exceeded"
	case CategoryIdempotencyConflict:
		return "idempotency_conflict"
	default:
		return "unknown"
	}
}
