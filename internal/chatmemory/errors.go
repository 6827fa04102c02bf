package chatmemory

import "errors"

var (
	// ErrSessionNotFound indicates the session doesn't exist under the
	// requester's visibility (spec §7 NotFound).
	ErrSessionNotFound = errors.New("session not found")
	// ErrAccessDenied indicates a mutation was denied by ownership rules.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidInput indicates invalid caller input.
	ErrInvalidInput = errors.New("invalid input")
)
