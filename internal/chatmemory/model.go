// Package chatmemory implements the Chat Memory Engine (spec §4.2): a
// thread-safe, per-user/per-team persistent conversation store with
// pre-computed semantic embeddings and cached cross-session search.
//
// Following the teacher's domain/repository split but collapsed into one
// façade per spec §9's re-architecting note ("one façade, many modules"):
// Memory is the single aggregate type; it delegates to one unexported
// store type whose methods are split across per-concern files (sessions,
// messages, summaries, documents, search, analytics).
package chatmemory

import "time"

// Mode is the session's model-selection mode.
type Mode string

const (
	ModeIntelligent Mode = "intelligent"
	ModeManual      Mode = "manual"
)

// Role identifies the speaker of a conversation event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a chat conversation container (spec §3.1 ChatSession).
type Session struct {
	ID              string
	Title           string
	DefaultModel    string
	ModelsUsed      []string // deduplicated, sorted, comma-joined on disk
	UserID          string
	TeamID          *string
	Summary         string
	Archived        bool
	AutoTitled      bool
	SelectedMode    Mode
	SelectedModelID *string
	MessageCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message is a ConversationEvent (spec §3.1).
type Message struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Role      Role
	Content   string
	Model     *string
	Tokens    *int
	Files     []string
	UserID    string
	TeamID    *string
}

// minEmbeddableLen is the content-length threshold above which a message
// gets a precomputed embedding (spec §3.1 MessageEmbedding invariant,
// boundary behavior in spec §8: len==20 no embedding, len==21 embedding).
const minEmbeddableLen = 20

// MessageEmbedding is the precomputed semantic vector for a message.
type MessageEmbedding struct {
	MessageID     int64
	SessionID     string
	EmbeddingJSON string
	TeamID        *string
}

// ConversationSummary is the rolling digest of a session (spec §3.1).
type ConversationSummary struct {
	SessionID   string
	Summary     string
	EventsJSON  string
	ModelsUsed  []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentChunk is one chunk of an uploaded file attached to a session.
type DocumentChunk struct {
	ID            int64
	SessionID     string
	FileID        string
	Filename      string
	ChunkIndex    int
	TotalChunks   int
	Content       string
	EmbeddingJSON string
	TeamID        *string
}

// SearchHit is one cross-session semantic search result (spec §4.2).
type SearchHit struct {
	SessionID    string
	SessionTitle string
	Role         Role
	Content      string // truncated to 200 chars
	Timestamp    time.Time
	Model        string
	Similarity   float64
}

// ModelUsage is one bucket of the per-model histogram in Analytics.
type ModelUsage struct {
	Model string
	Count int
}

// DailyTokenUsage is one day's token total (SPEC_FULL §3 supplement).
type DailyTokenUsage struct {
	Day    string // YYYY-MM-DD
	Tokens int
}

// Analytics is the per-(user,team) usage summary (spec §4.2).
type Analytics struct {
	SessionCount int
	MessageCount int
	TokenSum     int
	ModelUsage   []ModelUsage
	DailyTokens  []DailyTokenUsage
}
