package models

import "time"

// SessionStatus represents the state of an agent session.
type SessionStatus string

const (
	SessionStatusQueued    SessionStatus = "queued"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// ValidSessionStatus reports whether s is one of the known statuses.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusQueued, SessionStatusRunning, SessionStatusCompleted,
		SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// SessionMode distinguishes read-only planning runs from mutating code runs.
type SessionMode string

const (
	SessionModePlan SessionMode = "plan"
	SessionModeCode SessionMode = "code"
)

// AgentSession is one end-to-end invocation of a provider against a target
// (an epic, or a story plus its owning epic).
type AgentSession struct {
	ID        string
	ProjectID string
	EpicID    string
	StoryID   string
	Status    SessionStatus
	Mode      SessionMode
	Provider  string
	// Model is the resolved model snapshot taken at launch; the session does
	// not follow later edits to the named agent config it came from.
	Model            string
	NamedAgentID     string
	Prompt           string
	Branch           string
	WorktreePath     string
	ProviderSession  string // provider-native session id, used for resume
	LastNonEmptyText string
	Error            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	EndedAt          *time.Time
}

// StreamType tags a chunk with the stream it came from.
type StreamType string

const (
	StreamRaw      StreamType = "raw"      // unprocessed process output
	StreamOutput   StreamType = "output"   // intermediate progress text
	StreamResponse StreamType = "response" // final normalized answer
)

// ValidStreamType reports whether s is a known stream type.
func ValidStreamType(s StreamType) bool {
	return s == StreamRaw || s == StreamOutput || s == StreamResponse
}

// AgentSessionChunk is one fragment of a session's streamed output.
//
// Sequence is unique across all stream types of a session and strictly
// increasing in insertion order; a reader of a single stream sees gaps where
// the other streams consumed sequence numbers.
type AgentSessionChunk struct {
	ID         string
	SessionID  string
	StreamType StreamType
	Sequence   int64
	ChunkKey   string // optional idempotency key, e.g. "stdout:17"
	Content    string
	CreatedAt  time.Time
}
