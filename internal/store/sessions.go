package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sprintdeck/orc/internal/models"
)

const sessionColumns = `id, project_id, epic_id, story_id, status, mode, provider, model,
	named_agent_id, prompt, branch, worktree_path, provider_session,
	last_non_empty_text, error, created_at, started_at, ended_at`

// CreateAgentSessionForTarget inserts a new queued session, refusing when any
// queued or running session overlaps the target. The overlap check and the
// insert share one transaction so concurrent launches against the same epic
// or story cannot both succeed. A queued session already occupies its target:
// it is committed to run, and letting a second one in would just move the
// race to the queued->running transition.
func (s *SQLiteStore) CreateAgentSessionForTarget(ctx context.Context, session *models.AgentSession) error {
	if session.ID == "" {
		session.ID = newULID()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusQueued
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var conditions []string
	var args []any
	if session.EpicID != "" {
		conditions = append(conditions, "epic_id = ?")
		args = append(args, session.EpicID)
	}
	if session.StoryID != "" {
		conditions = append(conditions, "story_id = ?")
		args = append(args, session.StoryID)
	}

	if len(conditions) > 0 {
		query := `SELECT ` + sessionColumns + ` FROM agent_sessions
			WHERE status IN ('queued', 'running') AND (` + strings.Join(conditions, " OR ") + `)
			LIMIT 1`
		conflict, err := scanSession(tx.QueryRowContext(ctx, query, args...))
		if err == nil {
			return &models.TargetBusyError{Conflicting: conflict}
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check target contention: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.EpicID, session.StoryID,
		string(session.Status), string(session.Mode), session.Provider, session.Model,
		session.NamedAgentID, session.Prompt, session.Branch, session.WorktreePath,
		session.ProviderSession, session.LastNonEmptyText, session.Error,
		session.CreatedAt, session.StartedAt, session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create agent session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgentSession(ctx context.Context, id string) (*models.AgentSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListAgentSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.AgentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// MarkSessionRunning transitions a queued session to running. The status
// check rides on the UPDATE's WHERE clause, so the transition is a single
// atomic statement; a session in any other state yields InvalidTransition.
func (s *SQLiteStore) MarkSessionRunning(ctx context.Context, id string, at time.Time) (*models.AgentSession, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(models.SessionStatusRunning), at.UTC(), id, string(models.SessionStatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("mark session running: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, s.transitionConflict(ctx, id, models.SessionStatusRunning)
	}
	return s.GetAgentSession(ctx, id)
}

// MarkSessionTerminal writes exactly one terminal status plus endedAt, and
// the error message for failures. Legal from running, or from queued for the
// short-circuit case (e.g. dispatch never started). Terminal states are
// absorbing: a second terminal write fails with InvalidTransition.
func (s *SQLiteStore) MarkSessionTerminal(ctx context.Context, id string, target models.SessionStatus, errMsg string, at time.Time) (*models.AgentSession, error) {
	if !target.Terminal() {
		return nil, fmt.Errorf("status %s is not terminal", target)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET status = ?, ended_at = ?, error = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(target), at.UTC(), errMsg, id,
		string(models.SessionStatusRunning), string(models.SessionStatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("mark session terminal: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, s.transitionConflict(ctx, id, target)
	}
	return s.GetAgentSession(ctx, id)
}

// transitionConflict builds the error for a failed conditional transition:
// either the session is missing, or it is in a state the transition does not
// accept.
func (s *SQLiteStore) transitionConflict(ctx context.Context, id string, attempted models.SessionStatus) error {
	session, err := s.GetAgentSession(ctx, id)
	if err != nil {
		return err
	}
	return &models.InvalidTransitionError{
		SessionID: id,
		Status:    session.Status,
		Attempted: attempted,
	}
}

func (s *SQLiteStore) SetProviderSession(ctx context.Context, id, providerSession string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET provider_session = ? WHERE id = ?`, providerSession, id)
	if err != nil {
		return fmt.Errorf("set provider session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteAgentSession removes a session; chunks and the sequence counter go
// with it via foreign-key cascade.
func (s *SQLiteStore) DeleteAgentSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM agent_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent session %s: %w", id, ErrNotFound)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	var status, mode string
	var startedAt, endedAt sql.NullTime

	err := row.Scan(&session.ID, &session.ProjectID, &session.EpicID, &session.StoryID,
		&status, &mode, &session.Provider, &session.Model,
		&session.NamedAgentID, &session.Prompt, &session.Branch, &session.WorktreePath,
		&session.ProviderSession, &session.LastNonEmptyText, &session.Error,
		&session.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	session.Mode = models.SessionMode(mode)
	if startedAt.Valid {
		session.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return session, nil
}
