package sync

import "errors"

var (
	// ErrNotSyncable is returned when an operation names a table outside
	// AllowedTables. Callers must check this before any SQL construction.
	ErrNotSyncable = errors.New("table is not syncable")

	// ErrInvalidSignature is returned (and logged, never propagated to the
	// sender) when a team-scoped operation's signature fails verification.
	ErrInvalidSignature = errors.New("invalid operation signature")

	// ErrNotTeamMember is returned when the applying peer cannot verify the
	// operation's originating peer is a member of the operation's team.
	ErrNotTeamMember = errors.New("peer is not a member of the operation's team")

	// ErrStaleOperation is returned when an incoming operation loses last-
	// writer-wins conflict resolution against a newer known version.
	ErrStaleOperation = errors.New("operation superseded by a newer version")

	// ErrExchangeInProgress is returned when a peer exchange is requested
	// while the engine's state machine is already syncing with that peer.
	ErrExchangeInProgress = errors.New("sync exchange already in progress")
)
