// Package corerr defines the cross-cutting error taxonomy shared by every
// subsystem (spec §7), replacing ad hoc "catch anything" handling with an
// explicit, classifiable set of error kinds.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions at call sites
// (raise, log-and-swallow, map to a caller-visible status).
type Kind string

const (
	NotFound           Kind = "not_found"
	AccessDenied        Kind = "access_denied"
	InvalidIdentifier   Kind = "invalid_identifier"
	NotSyncable         Kind = "not_syncable"
	InvalidSignature    Kind = "invalid_signature"
	ConflictingVersion  Kind = "conflicting_version"
	StorageUnavailable  Kind = "storage_unavailable"
	PeerUnreachable     Kind = "peer_unreachable"
	RateLimited         Kind = "rate_limited"
)

// Error wraps an underlying cause with a Kind so callers can classify it
// without type-switching on package-specific sentinels.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a classified
// *Error (or wraps none).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
