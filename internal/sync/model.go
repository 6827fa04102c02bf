// Package sync implements the P2P Offline Sync Engine (spec §4.3): a
// CRDT-style, vector-clock-ordered operation log that synchronizes a
// whitelist of tables between peers over HTTP, with signed team-scoped
// operations and persistent replay across restarts.
package sync

import "time"

// Operation is the kind of mutation a SyncOperation records.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status is a peer exchange's state-machine state (spec §4.3).
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// AllowedTables is the compile-time frozen set of tables eligible for P2P
// replication (spec §4.3). Any operation naming a table outside this set is
// rejected before SQL construction — the primary defense against malicious
// peer payloads.
var AllowedTables = map[string]struct{}{
	"chat_sessions":        {},
	"chat_messages":        {},
	"chat_context":         {},
	"vault_files":          {},
	"vault_folders":        {},
	"vault_metadata":       {},
	"workflows":            {},
	"work_items":           {},
	"team_notes":           {},
	"team_documents":       {},
	"shared_queries":       {},
	"query_history":        {},
}

// IsSyncable reports whether table is in the allowlist.
func IsSyncable(table string) bool {
	_, ok := AllowedTables[table]
	return ok
}

// SyncOperation is the source-of-truth replication record (spec §3.1).
type SyncOperation struct {
	OpID      string
	TableName string
	Operation Operation
	RowID     string
	Data      map[string]any
	Timestamp time.Time // ISO8601 UTC
	PeerID    string
	Version   int64
	TeamID    *string
	Signature string
	Synced    bool
}

// PeerSyncState tracks the last exchange with one remote peer (spec §3.1).
// LastError is a SPEC_FULL §3 supplement recovered from the original
// source's offline_data_sync.py, surfacing the most recent failure for
// operators without requiring external log correlation.
type PeerSyncState struct {
	PeerID             string
	LastSync           time.Time
	OperationsSent     int
	OperationsReceived int
	ConflictsResolved  int
	Status             Status
	LastError          *string
}

// VersionTracking is the LWW conflict-check ledger keyed by
// (table_name, row_id, peer_id) (spec §3.1).
type VersionTracking struct {
	TableName string
	RowID     string
	PeerID    string
	Version   int64
	Timestamp time.Time
}

// Peer identifies a remote peer's network address (spec §6.3
// PeerDiscovery).
type Peer struct {
	PeerID string
	IP     string
	Port   int
}
