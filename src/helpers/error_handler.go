package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-datahub/src/logger"
	"stock-datahub/src/models"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type DataHubError struct {
	Message string
	Cause   error
}

func (e *DataHubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DataHubError) Unwrap() error {
	return e.Cause
}

// ConfigurationError is fatal at startup: missing credential, bad storage path.
type ConfigurationError struct{ DataHubError }

// CacheError means the store is unreachable or corrupt. Never recovered.
type CacheError struct{ DataHubError }

// NotFoundError means neither the cache nor any provider has the record.
type NotFoundError struct {
	DataHubError
	Symbol string
	Kind   models.DataKind
}

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{DataHubError{Message: message, Cause: cause}}
}

func NewCacheError(operation string, cause error) *CacheError {
	return &CacheError{DataHubError{Message: "cache " + operation + " failed", Cause: cause}}
}

func NewNotFoundError(symbol string, kind models.DataKind, cause error) *NotFoundError {
	return &NotFoundError{
		DataHubError: DataHubError{Message: fmt.Sprintf("no %s for %s in cache or at any provider", kind, symbol), Cause: cause},
		Symbol:       symbol,
		Kind:         kind,
	}
}

// ErrInvalidInput marks caller mistakes such as a malformed symbol or an
// inverted date range.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidSymbol = fmt.Errorf("%w: symbol", ErrInvalidInput)
)

// -----------------------------------------------------------------------------
// Provider Errors
// -----------------------------------------------------------------------------

type ProviderErrorKind string

const (
	ErrAuthentication      ProviderErrorKind = "authentication"
	ErrRateLimit           ProviderErrorKind = "rate_limit"
	ErrUpstreamUnavailable ProviderErrorKind = "upstream_unavailable"
	ErrNoData              ProviderErrorKind = "no_data"
)

// ProviderError is returned by every IDataSource implementation.
type ProviderError struct {
	DataHubError
	Kind     ProviderErrorKind
	Provider string
}

func NewProviderError(provider string, kind ProviderErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{
		DataHubError: DataHubError{Message: fmt.Sprintf("%s: %s: %s", provider, kind, message), Cause: cause},
		Kind:         kind,
		Provider:     provider,
	}
}

// CanFallback reports whether another provider may succeed where this one failed.
func (e *ProviderError) CanFallback() bool {
	switch e.Kind {
	case ErrAuthentication, ErrRateLimit, ErrUpstreamUnavailable, ErrNoData:
		return true
	}
	return false
}

// FallbackError is returned when every configured provider failed. The
// primary's error is the representative cause; the secondary's is kept for context.
type FallbackError struct {
	Primary   error
	Secondary error
}

func (e *FallbackError) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("all providers failed: %v", e.Primary)
	}
	return fmt.Sprintf("all providers failed: %v (secondary: %v)", e.Primary, e.Secondary)
}

func (e *FallbackError) Unwrap() error {
	return e.Primary
}

// -----------------------------------------------------------------------------
// Classification helpers
// -----------------------------------------------------------------------------

// ProviderKindOf returns the kind of the first ProviderError in err's chain.
func ProviderKindOf(err error) (ProviderErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsProviderKind reports whether err carries a ProviderError of the given kind.
func IsProviderKind(err error, kind ProviderErrorKind) bool {
	k, ok := ProviderKindOf(err)
	return ok && k == kind
}

// IsNoData reports whether err means no provider has the record. A
// FallbackError qualifies only when both providers answered NoData.
func IsNoData(err error) bool {
	var fb *FallbackError
	if errors.As(err, &fb) {
		return IsProviderKind(fb.Primary, ErrNoData) && IsProviderKind(fb.Secondary, ErrNoData)
	}
	return IsProviderKind(err, ErrNoData)
}

func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff retries fn on transport-level failures with exponential
// backoff. Provider errors other than UpstreamUnavailable are returned at once:
// auth, rate limit and no-data never improve within a single logical call.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err
		if kind, ok := ProviderKindOf(err); ok && kind != ErrUpstreamUnavailable {
			return zero, err
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}
