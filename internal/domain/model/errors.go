package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a TokenError. Retry policy is a property of the kind,
// not of the call site.
type ErrorKind string

const (
	ErrKindNotFound          ErrorKind = "NOT_FOUND"
	ErrKindStorage           ErrorKind = "STORAGE_ERROR"
	ErrKindInvalidCredential ErrorKind = "INVALID_CREDENTIAL"
	ErrKindExpired           ErrorKind = "EXPIRED"
	ErrKindRefreshFailed     ErrorKind = "REFRESH_FAILED"
	ErrKindRefreshExhausted  ErrorKind = "REFRESH_EXHAUSTED"
	ErrKindReauthFailed      ErrorKind = "REAUTH_FAILED"
	ErrKindRateLimited       ErrorKind = "RATE_LIMITED"
	ErrKindRevoked           ErrorKind = "REVOKED"
	ErrKindTimeout           ErrorKind = "TIMEOUT"
	ErrKindCancelled         ErrorKind = "CANCELLED"
)

// Sentinels for errors.Is. A TokenError matches a sentinel when the kinds are equal.
var (
	ErrNotFound          = &TokenError{Kind: ErrKindNotFound}
	ErrStorage           = &TokenError{Kind: ErrKindStorage}
	ErrInvalidCredential = &TokenError{Kind: ErrKindInvalidCredential}
	ErrExpired           = &TokenError{Kind: ErrKindExpired}
	ErrRefreshFailed     = &TokenError{Kind: ErrKindRefreshFailed}
	ErrRefreshExhausted  = &TokenError{Kind: ErrKindRefreshExhausted}
	ErrReauthFailed      = &TokenError{Kind: ErrKindReauthFailed}
	ErrRateLimited       = &TokenError{Kind: ErrKindRateLimited}
	ErrRevoked           = &TokenError{Kind: ErrKindRevoked}
	ErrTimeout           = &TokenError{Kind: ErrKindTimeout}
	ErrCancelled         = &TokenError{Kind: ErrKindCancelled}
)

// TokenError is the structured error emitted by the credential manager.
type TokenError struct {
	Kind       ErrorKind
	Op         string        // Operation that failed, e.g. "coordinator.EnsureFresh".
	Provider   Provider      // Empty when not provider specific.
	RetryAfter time.Duration // Only set for RATE_LIMITED.
	Err        error
}

func (e *TokenError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Provider != "" {
		msg += fmt.Sprintf(" (%s)", e.Provider)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is matches any TokenError of the same kind.
func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Kind == e.Kind
}

// NewTokenError creates a TokenError of the given kind.
func NewTokenError(kind ErrorKind, op string, provider Provider, err error) *TokenError {
	return &TokenError{Kind: kind, Op: op, Provider: provider, Err: err}
}

// NewRateLimitedError creates a RATE_LIMITED error carrying the provider's retry-after hint.
func NewRateLimitedError(op string, provider Provider, retryAfter time.Duration, err error) *TokenError {
	return &TokenError{Kind: ErrKindRateLimited, Op: op, Provider: provider, RetryAfter: retryAfter, Err: err}
}

// KindOf returns the kind of the first TokenError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// RetryAfterOf returns the retry-after hint of a RATE_LIMITED error in err's chain.
func RetryAfterOf(err error) time.Duration {
	var te *TokenError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// IsRetryable reports whether the coordinator may retry err inside its backoff
// budget. Errors without a kind are treated as transient refresh failures.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrKindStorage, ErrKindTimeout, ErrKindRefreshFailed, "":
		return true
	default:
		return false
	}
}
