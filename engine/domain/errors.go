package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the recoverable failure taxonomy. Each is handled
// locally by its owning component via a documented fallback; none abort an
// invocation on their own.
var (
	ErrProviderTimeout   = errors.New("provider timeout")
	ErrProviderHTTP      = errors.New("provider http error")
	ErrProviderMalformed = errors.New("provider malformed response")
	ErrQuotaExceeded     = errors.New("provider quota exceeded")
	ErrLLMTimeout        = errors.New("llm timeout")
	ErrLLMTruncated      = errors.New("llm output truncated")
	ErrLLMMalformed      = errors.New("llm malformed output")
	ErrQualityRejected   = errors.New("quality below threshold")
	ErrCacheUnavailable  = errors.New("cache unavailable")

	// ErrNoCandidates is the only hard discovery failure: every provider and
	// the seed fallback returned nothing.
	ErrNoCandidates = errors.New("no candidates from any provider")
)

// ProviderErrorClass buckets provider failures. Rate limiting is kept
// distinct because it feeds the circuit breaker differently from a timeout.
type ProviderErrorClass int

const (
	ProviderErrNone ProviderErrorClass = iota
	ProviderErrTimeout
	ProviderErrRateLimited
	ProviderErrHTTP
	ProviderErrMalformed
)

func (c ProviderErrorClass) String() string {
	switch c {
	case ProviderErrNone:
		return "none"
	case ProviderErrTimeout:
		return "timeout"
	case ProviderErrRateLimited:
		return "rate_limited"
	case ProviderErrHTTP:
		return "http_error"
	case ProviderErrMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// ClassifyProviderError maps an error from a provider call onto the taxonomy.
// Unknown errors are treated as HTTP errors, the broadest recoverable class.
func ClassifyProviderError(err error) ProviderErrorClass {
	if err == nil {
		return ProviderErrNone
	}
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ProviderErrRateLimited
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return ProviderErrTimeout
	case errors.Is(err, ErrProviderMalformed):
		return ProviderErrMalformed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProviderErrTimeout
	}
	return ProviderErrHTTP
}

// ProviderError wraps a provider failure with its origin and classification.
type ProviderError struct {
	Provider ProviderID
	Class    ProviderErrorClass
	Wrapped  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Wrapped)
}

func (e *ProviderError) Unwrap() error { return e.Wrapped }

// NewProviderError classifies and wraps err for the given provider.
func NewProviderError(id ProviderID, err error) *ProviderError {
	return &ProviderError{Provider: id, Class: ClassifyProviderError(err), Wrapped: err}
}
