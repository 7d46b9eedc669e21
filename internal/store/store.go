package store

import (
	"context"
	"errors"
	"time"

	"github.com/sprintdeck/orc/internal/models"
)

// ErrNotFound is wrapped by store methods when a record does not exist.
var ErrNotFound = errors.New("not found")

// SessionFilter specifies filters for listing agent sessions.
type SessionFilter struct {
	ProjectID string
	Statuses  []models.SessionStatus
	Limit     int
}

// AppendChunkParams describes one fragment of streamed session output.
type AppendChunkParams struct {
	SessionID  string
	StreamType models.StreamType
	Content    string
	ChunkKey   string // optional; duplicate keys are absorbed, not errors
	CreatedAt  time.Time
}

// Store defines the persistence interface for the orchestrator.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Named agent configs
	CreateNamedAgent(ctx context.Context, a *models.NamedAgentConfig) error
	GetNamedAgent(ctx context.Context, id string) (*models.NamedAgentConfig, error)
	GetNamedAgentByName(ctx context.Context, name string) (*models.NamedAgentConfig, error)
	ListNamedAgents(ctx context.Context) ([]*models.NamedAgentConfig, error)
	UpdateNamedAgent(ctx context.Context, a *models.NamedAgentConfig) error
	DeleteNamedAgent(ctx context.Context, id string) error

	// Agent role defaults
	UpsertRoleDefault(ctx context.Context, d *models.AgentRoleDefault) error
	GetRoleDefault(ctx context.Context, role models.AgentRole, scope string) (*models.AgentRoleDefault, error)
	ListRoleDefaults(ctx context.Context) ([]*models.AgentRoleDefault, error)
	DeleteRoleDefault(ctx context.Context, role models.AgentRole, scope string) error

	// Agent sessions. CreateAgentSessionForTarget is the concurrency guard:
	// the overlap check and the insert happen in one transaction, and a
	// conflict comes back as *models.TargetBusyError.
	CreateAgentSessionForTarget(ctx context.Context, session *models.AgentSession) error
	GetAgentSession(ctx context.Context, id string) (*models.AgentSession, error)
	ListAgentSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error)
	MarkSessionRunning(ctx context.Context, id string, at time.Time) (*models.AgentSession, error)
	MarkSessionTerminal(ctx context.Context, id string, target models.SessionStatus, errMsg string, at time.Time) (*models.AgentSession, error)
	SetProviderSession(ctx context.Context, id, providerSession string) error
	DeleteAgentSession(ctx context.Context, id string) error

	// Session chunks
	AppendChunk(ctx context.Context, params AppendChunkParams) (*models.AgentSessionChunk, bool, error)
	ListChunks(ctx context.Context, sessionID string, stream models.StreamType) ([]*models.AgentSessionChunk, error)
	CountChunks(ctx context.Context, sessionID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
