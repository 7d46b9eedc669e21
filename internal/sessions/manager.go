// Package sessions orchestrates the full life of an agent session: agent
// resolution, worktree setup, the target concurrency guard, process dispatch,
// and the terminal transition when the process exits.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sprintdeck/orc/internal/agent"
	"github.com/sprintdeck/orc/internal/dispatch"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/normalize"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

// waitPollInterval paces Wait's status polling.
const waitPollInterval = 200 * time.Millisecond

// WorktreeClient prepares an isolated checkout for an epic.
type WorktreeClient interface {
	EnsureForEpic(epicID, epicTitle string) (*wt.Worktree, error)
}

// StartInput describes a session launch request.
type StartInput struct {
	ProjectID string
	EpicID    string // the target epic, optional when StoryID is set
	StoryID   string
	EpicTitle string // used for branch naming; optional
	Role      models.AgentRole
	Mode      models.SessionMode
	Prompt    string
	// NamedAgentID explicitly selects an agent config, bypassing role
	// defaults. Empty means "resolve from defaults".
	NamedAgentID string
	// ResumeFrom is a prior session whose provider conversation should be
	// continued.
	ResumeFrom string
}

// Manager coordinates the store, resolver, worktrees and dispatcher.
type Manager struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger

	// worktrees builds the per-repo worktree client; swapped in tests.
	worktrees func(repoPath string) WorktreeClient
}

// NewManager creates a manager. Call SetDispatcher before Start; the
// dispatcher needs the manager's HandleCompletion as its exit callback, so
// the two are wired after construction.
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		logger: logger,
		worktrees: func(repoPath string) WorktreeClient {
			return wt.NewClient(repoPath)
		},
	}
}

// SetDispatcher installs the process dispatcher.
func (m *Manager) SetDispatcher(d dispatch.Dispatcher) { m.dispatcher = d }

// SetWorktreeFactory overrides worktree client construction.
func (m *Manager) SetWorktreeFactory(f func(repoPath string) WorktreeClient) { m.worktrees = f }

// Start resolves an agent, prepares the worktree, creates the session under
// the target guard, and dispatches the provider process. The returned session
// is running, or the error explains why not: a *models.TargetBusyError when
// the target is occupied, or a dispatch failure (in which case the session
// exists in state failed).
func (m *Manager) Start(ctx context.Context, input StartInput) (*models.AgentSession, error) {
	if input.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if input.EpicID == "" && input.StoryID == "" {
		return nil, fmt.Errorf("a target epic or story is required")
	}
	if input.Mode == "" {
		input.Mode = models.SessionModeCode
	}

	project, err := m.store.GetProject(ctx, input.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	resolution, err := agent.Resolve(ctx, m.store, input.Role, input.ProjectID, input.NamedAgentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}

	cwd := project.RepoPath
	branch := ""
	worktreePath := ""
	if input.EpicID != "" {
		worktree, err := m.worktrees(project.RepoPath).EnsureForEpic(input.EpicID, input.EpicTitle)
		if err != nil {
			return nil, fmt.Errorf("prepare worktree: %w", err)
		}
		cwd = worktree.Path
		branch = worktree.Branch
		worktreePath = worktree.Path
	}

	var providerSession string
	if input.ResumeFrom != "" {
		prior, err := m.store.GetAgentSession(ctx, input.ResumeFrom)
		if err != nil {
			return nil, fmt.Errorf("resume source: %w", err)
		}
		providerSession = prior.ProviderSession
	}

	session := &models.AgentSession{
		ProjectID:    input.ProjectID,
		EpicID:       input.EpicID,
		StoryID:      input.StoryID,
		Mode:         input.Mode,
		Provider:     resolution.Provider,
		Model:        resolution.Model,
		NamedAgentID: resolution.NamedAgentID,
		Prompt:       input.Prompt,
		Branch:       branch,
		WorktreePath: worktreePath,
	}
	if err := m.store.CreateAgentSessionForTarget(ctx, session); err != nil {
		return nil, err
	}

	startOpts := dispatch.StartOptions{
		Mode:              input.Mode,
		Prompt:            input.Prompt,
		Cwd:               cwd,
		Model:             resolution.Model,
		ProviderSessionID: providerSession,
		Resume:            providerSession != "",
	}
	if err := m.dispatcher.Start(ctx, session.ID, startOpts, resolution.Provider); err != nil {
		// Never entered running: short-circuit queued -> failed.
		now := time.Now().UTC()
		failed, termErr := m.store.MarkSessionTerminal(ctx, session.ID,
			models.SessionStatusFailed, fmt.Sprintf("dispatch: %v", err), now)
		if termErr != nil {
			m.logger.Error("short-circuit transition failed",
				"session", session.ID, "error", termErr)
			return nil, fmt.Errorf("dispatch %s: %w", resolution.Provider, err)
		}
		return failed, fmt.Errorf("dispatch %s: %w", resolution.Provider, err)
	}

	running, err := m.store.MarkSessionRunning(ctx, session.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	m.logger.Info("session started",
		"session", running.ID, "provider", running.Provider, "model", running.Model,
		"epic", running.EpicID, "story", running.StoryID, "mode", running.Mode)
	return running, nil
}

// HandleCompletion lands a process exit: the final output is normalized and
// recorded as a response chunk, the provider-native session id is captured
// for later resumption, and the session transitions to its terminal state.
// An InvalidTransition here means someone else (cancel) already finished the
// session, which is fine.
func (m *Manager) HandleCompletion(c dispatch.Completion) {
	ctx := context.Background()
	now := time.Now().UTC()

	result := normalize.Normalize(c.Output)
	if result.Content != "" {
		_, _, err := m.store.AppendChunk(ctx, store.AppendChunkParams{
			SessionID:  c.SessionID,
			StreamType: models.StreamResponse,
			Content:    result.Content,
			ChunkKey:   "final",
		})
		if err != nil {
			m.logger.Warn("record final response failed", "session", c.SessionID, "error", err)
		}
	}

	if id := normalize.ExtractProviderSessionID(c.Output); id != "" {
		if err := m.store.SetProviderSession(ctx, c.SessionID, id); err != nil {
			m.logger.Warn("record provider session failed", "session", c.SessionID, "error", err)
		}
	}

	target := models.SessionStatusCompleted
	errMsg := ""
	if c.ExitCode != 0 {
		target = models.SessionStatusFailed
		errMsg = fmt.Sprintf("provider exited with code %d", c.ExitCode)
		if c.Err != nil {
			errMsg = fmt.Sprintf("%s: %v", errMsg, c.Err)
		}
	}

	_, err := m.store.MarkSessionTerminal(ctx, c.SessionID, target, errMsg, now)
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			m.logger.Debug("session already terminal",
				"session", c.SessionID, "status", invalid.Status)
			return
		}
		m.logger.Error("terminal transition failed", "session", c.SessionID, "error", err)
		return
	}
	m.logger.Info("session finished", "session", c.SessionID, "status", target)
}

// Cancel stops a session. The kill is best-effort; the cancelled transition
// is the authoritative state change and its InvalidTransition error is
// returned as-is so callers can tell "already finished" apart.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*models.AgentSession, error) {
	if !m.dispatcher.Kill(sessionID) {
		m.logger.Debug("no live process to kill", "session", sessionID)
	}

	session, err := m.store.MarkSessionTerminal(ctx, sessionID,
		models.SessionStatusCancelled, "", time.Now().UTC())
	if err != nil {
		return nil, err
	}
	m.logger.Info("session cancelled", "session", sessionID)
	return session, nil
}

// Wait blocks until the session reaches a terminal state or ctx is done.
// A caller giving up does not disturb the session: the process completes and
// lands its terminal state regardless.
func (m *Manager) Wait(ctx context.Context, sessionID string) (*models.AgentSession, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		session, err := m.store.GetAgentSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Status.Terminal() {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FinalText returns the best display text for a session: the cached last
// non-empty line when present, otherwise the normalized response stream.
func (m *Manager) FinalText(ctx context.Context, sessionID string) (string, error) {
	session, err := m.store.GetAgentSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.LastNonEmptyText != "" {
		return session.LastNonEmptyText, nil
	}

	chunks, err := m.store.ListChunks(ctx, sessionID, models.StreamResponse)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, chunk := range chunks {
		if text := strings.TrimSpace(chunk.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
