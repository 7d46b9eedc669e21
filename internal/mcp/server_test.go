package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintdeck/orc/internal/dispatch"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

type fakeDispatcher struct{}

func (fakeDispatcher) Start(context.Context, string, dispatch.StartOptions, string) error { return nil }
func (fakeDispatcher) Status(string) (dispatch.Status, bool)                              { return dispatch.Status{}, false }
func (fakeDispatcher) Kill(string) bool                                                   { return true }

type fakeWorktrees struct{ dir string }

func (f *fakeWorktrees) EnsureForEpic(epicID, epicTitle string) (*wt.Worktree, error) {
	return &wt.Worktree{Path: filepath.Join(f.dir, epicID), Branch: "epic/" + epicID}, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	project := &models.Project{Name: "demo", RepoPath: t.TempDir()}
	require.NoError(t, s.CreateProject(context.Background(), project))

	mgr := sessions.NewManager(s, nil)
	mgr.SetDispatcher(fakeDispatcher{})
	mgr.SetWorktreeFactory(func(string) sessions.WorktreeClient {
		return &fakeWorktrees{dir: t.TempDir()}
	})
	return NewServer(s, mgr), project.ID
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

func startViaTool(t *testing.T, srv *Server, epicID string) map[string]any {
	t.Helper()
	result, err := srv.handleStartSession(context.Background(), callToolReq("orc_start_session", map[string]any{
		"project": "demo",
		"epic_id": epicID,
		"prompt":  "build it",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out map[string]any
	resultJSON(t, result, &out)
	return out
}

func TestStartSessionTool(t *testing.T) {
	srv, projectID := newTestServer(t)

	out := startViaTool(t, srv, "epic-1")
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, projectID, out["project_id"])
	assert.Equal(t, models.ProviderClaudeCode, out["provider"])
}

func TestStartSessionToolBusyTarget(t *testing.T) {
	srv, _ := newTestServer(t)
	startViaTool(t, srv, "epic-1")

	result, err := srv.handleStartSession(context.Background(), callToolReq("orc_start_session", map[string]any{
		"project": "demo",
		"epic_id": "epic-1",
		"prompt":  "again",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "target busy")
}

func TestStartSessionToolMissingProject(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleStartSession(context.Background(), callToolReq("orc_start_session", map[string]any{
		"project": "nope",
		"epic_id": "epic-1",
		"prompt":  "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListAndGetSessionTools(t *testing.T) {
	srv, _ := newTestServer(t)
	created := startViaTool(t, srv, "epic-1")
	ctx := context.Background()

	result, err := srv.handleListSessions(ctx, callToolReq("orc_list_sessions", map[string]any{
		"project": "demo", "status": "running",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var list []map[string]any
	resultJSON(t, result, &list)
	require.Len(t, list, 1)

	result, err = srv.handleGetSession(ctx, callToolReq("orc_get_session", map[string]any{
		"session_id": created["session_id"],
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got map[string]any
	resultJSON(t, result, &got)
	assert.Equal(t, created["session_id"], got["session_id"])
}

func TestCancelSessionTool(t *testing.T) {
	srv, _ := newTestServer(t)
	created := startViaTool(t, srv, "epic-1")
	ctx := context.Background()

	result, err := srv.handleCancelSession(ctx, callToolReq("orc_cancel_session", map[string]any{
		"session_id": created["session_id"],
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "cancelled", out["status"])

	// Cancelling again reports the invalid transition.
	result, err = srv.handleCancelSession(ctx, callToolReq("orc_cancel_session", map[string]any{
		"session_id": created["session_id"],
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cancelled")
}

func TestSessionOutputTool(t *testing.T) {
	srv, _ := newTestServer(t)
	created := startViaTool(t, srv, "epic-1")
	ctx := context.Background()

	_, _, err := srv.store.AppendChunk(ctx, store.AppendChunkParams{
		SessionID:  created["session_id"].(string),
		StreamType: models.StreamOutput,
		Content:    "progress\nfinal line",
	})
	require.NoError(t, err)

	result, err := srv.handleSessionOutput(ctx, callToolReq("orc_session_output", map[string]any{
		"session_id": created["session_id"],
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "final line", out["content"])
	assert.Equal(t, "running", out["status"])
}

func TestResolveAgentTool(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, srv.store.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketReview, Scope: models.ScopeGlobal, Provider: models.ProviderGemini,
	}))

	result, err := srv.handleResolveAgent(ctx, callToolReq("orc_resolve_agent", map[string]any{
		"role": "ticket_review",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, models.ProviderGemini, out["provider"])
}
