// Package syncerr classifies failures seen while talking to the accounting
// provider so the queue can decide whether a job is worth retrying.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	// KindAuth covers failures only re-authentication fixes: invalid_grant,
	// missing refresh token, revoked access.
	KindAuth Kind = "auth"
	// KindUnauthorized is a 401 on a data call; one forced refresh may fix it.
	KindUnauthorized Kind = "unauthorized"
	KindRateLimit    Kind = "rate_limit"
	KindTransient    Kind = "transient"
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
)

// ErrCancelled is returned by importers that stopped because their sync job
// was cancelled.
var ErrCancelled = errors.New("sync cancelled")

type Error struct {
	Kind       Kind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Auth(op string, err error) *Error       { return New(KindAuth, op, err) }
func Transient(op string, err error) *Error  { return New(KindTransient, op, err) }
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

func RateLimited(op string, err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Op: op, Err: err, RetryAfter: retryAfter}
}

// KindOf returns the kind of the first *Error in the chain, or "" when the
// chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the job that produced err should be retried
// with backoff. Unclassified errors count as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindRateLimit, KindTransient, "":
		return true
	default:
		return false
	}
}

// RetryAfter returns the provider-suggested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
