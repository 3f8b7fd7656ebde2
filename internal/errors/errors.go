// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retry, pause and abort.
type Kind string

const (
	KindAuthenticationFailed   Kind = "authentication_failed"
	KindRateLimited            Kind = "rate_limited"
	KindNetworkError           Kind = "network_error"
	KindNotFound               Kind = "not_found"
	KindMalformedResponse      Kind = "malformed_response"
	KindStorageConflict        Kind = "storage_conflict"
	KindConcurrentSyncRejected Kind = "concurrent_sync_rejected"
	KindInvalidInput           Kind = "invalid_input"
	KindCanceled               Kind = "canceled"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is checks. Matching is by kind only.
var (
	ErrAuthenticationFailed   = &Error{Kind: KindAuthenticationFailed}
	ErrRateLimited            = &Error{Kind: KindRateLimited}
	ErrNetwork                = &Error{Kind: KindNetworkError}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrMalformedResponse      = &Error{Kind: KindMalformedResponse}
	ErrStorageConflict        = &Error{Kind: KindStorageConflict}
	ErrConcurrentSyncRejected = &Error{Kind: KindConcurrentSyncRejected}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrCanceled               = &Error{Kind: KindCanceled}
)

// Error is a classified failure with an optional underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the kind is transient and worth retrying with backoff.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindNetworkError
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var f *ErrInvalidRepoFormat
	if errors.As(err, &f) {
		return KindInvalidInput
	}
	return KindInternal
}

// ErrInvalidRepoFormat is returned when a repository URL cannot be split into 'owner/name'.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected a URL ending in 'owner/name'", e.Repo)
}

// Is makes ErrInvalidRepoFormat match ErrInvalidInput.
func (e *ErrInvalidRepoFormat) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindInvalidInput
}
