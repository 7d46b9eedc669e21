package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintdeck/orc/internal/dispatch"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

type fakeDispatcher struct {
	startErr error
	killed   int
}

func (d *fakeDispatcher) Start(context.Context, string, dispatch.StartOptions, string) error {
	return d.startErr
}
func (d *fakeDispatcher) Status(string) (dispatch.Status, bool) { return dispatch.Status{}, false }
func (d *fakeDispatcher) Kill(string) bool {
	d.killed++
	return true
}

type fakeWorktrees struct{ dir string }

func (f *fakeWorktrees) EnsureForEpic(epicID, epicTitle string) (*wt.Worktree, error) {
	return &wt.Worktree{Path: filepath.Join(f.dir, epicID), Branch: "epic/" + epicID}, nil
}

type testEnv struct {
	server    *httptest.Server
	store     *store.SQLiteStore
	projectID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	project := &models.Project{Name: "demo", RepoPath: t.TempDir()}
	require.NoError(t, s.CreateProject(context.Background(), project))

	mgr := sessions.NewManager(s, nil)
	mgr.SetDispatcher(&fakeDispatcher{})
	mgr.SetWorktreeFactory(func(string) sessions.WorktreeClient {
		return &fakeWorktrees{dir: t.TempDir()}
	})

	srv := httptest.NewServer(NewServer(s, mgr, nil, nil).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: s, projectID: project.ID}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) startSession(t *testing.T, epicID string) models.AgentSession {
	t.Helper()
	resp := e.do(t, "POST", "/api/v1/sessions", map[string]any{
		"project_id": e.projectID,
		"epic_id":    epicID,
		"role":       "ticket_build",
		"prompt":     "build it",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.AgentSession](t, resp)
}

func TestStartAndGetSession(t *testing.T) {
	e := newTestEnv(t)
	session := e.startSession(t, "epic-1")
	assert.Equal(t, models.SessionStatusRunning, session.Status)
	assert.Equal(t, models.ProviderClaudeCode, session.Provider)

	resp := e.do(t, "GET", "/api/v1/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.AgentSession](t, resp)
	assert.Equal(t, session.ID, got.ID)
}

func TestStartSessionTargetBusy(t *testing.T) {
	e := newTestEnv(t)
	first := e.startSession(t, "epic-1")

	resp := e.do(t, "POST", "/api/v1/sessions", map[string]any{
		"project_id": e.projectID,
		"epic_id":    "epic-1",
		"role":       "ticket_build",
		"prompt":     "again",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	conflicting, ok := body["conflicting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, first.ID, conflicting["ID"])
}

func TestStartSessionValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, "POST", "/api/v1/sessions", map[string]any{
		"project_id": e.projectID, "epic_id": "e", "prompt": "x", "mode": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, "POST", "/api/v1/sessions", map[string]any{
		"project_id": "missing", "epic_id": "e", "prompt": "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelSessionConflictDetail(t *testing.T) {
	e := newTestEnv(t)
	session := e.startSession(t, "epic-1")

	resp := e.do(t, "DELETE", "/api/v1/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[models.AgentSession](t, resp)
	assert.Equal(t, models.SessionStatusCancelled, cancelled.Status)

	resp = e.do(t, "DELETE", "/api/v1/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, session.ID, body["session_id"])
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "cancelled", body["attempted"])
}

func TestListSessionsFilter(t *testing.T) {
	e := newTestEnv(t)
	e.startSession(t, "epic-1")
	second := e.startSession(t, "epic-2")
	resp := e.do(t, "DELETE", "/api/v1/sessions/"+second.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, "GET", "/api/v1/sessions?status=running", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	running := decode[[]models.AgentSession](t, resp)
	require.Len(t, running, 1)

	resp = e.do(t, "GET", "/api/v1/sessions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionChunksAndOutput(t *testing.T) {
	e := newTestEnv(t)
	session := e.startSession(t, "epic-1")
	ctx := context.Background()

	for i, content := range []string{"progress 1", "progress 2"} {
		_, _, err := e.store.AppendChunk(ctx, store.AppendChunkParams{
			SessionID:  session.ID,
			StreamType: models.StreamOutput,
			Content:    content,
			ChunkKey:   fmt.Sprintf("stdout:%d", i),
		})
		require.NoError(t, err)
	}

	resp := e.do(t, "GET", "/api/v1/sessions/"+session.ID+"/chunks?stream=output", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chunks := decode[[]models.AgentSessionChunk](t, resp)
	require.Len(t, chunks, 2)
	assert.Equal(t, "progress 1", chunks[0].Content)

	resp = e.do(t, "GET", "/api/v1/sessions/"+session.ID+"/output", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	output := decode[map[string]any](t, resp)
	assert.Equal(t, "progress 2", output["content"])
}

func TestSessionVerdict(t *testing.T) {
	e := newTestEnv(t)
	session := e.startSession(t, "epic-1")

	_, _, err := e.store.AppendChunk(context.Background(), store.AppendChunkParams{
		SessionID:  session.ID,
		StreamType: models.StreamResponse,
		Content:    "verdict: pass\nall good",
	})
	require.NoError(t, err)

	resp := e.do(t, "GET", "/api/v1/sessions/"+session.ID+"/verdict", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "approved", body["verdict"])
}

func TestNamedAgentCRUDAndResolve(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, "POST", "/api/v1/agents", map[string]any{
		"Name": "Reviewer", "Provider": "codex", "Model": "gpt-5-codex",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.NamedAgentConfig](t, resp)

	resp = e.do(t, "POST", "/api/v1/agents", map[string]any{
		"Name": "Bad", "Provider": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, "PUT", "/api/v1/defaults", map[string]any{
		"Role": "ticket_review", "NamedAgentID": created.ID, "Provider": "codex",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, "GET", "/api/v1/agents/resolve?role=ticket_review", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolution := decode[map[string]any](t, resp)
	assert.Equal(t, "codex", resolution["Provider"])
	assert.Equal(t, "gpt-5-codex", resolution["Model"])

	resp = e.do(t, "DELETE", "/api/v1/agents/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deleted reference: bare provider, still resolved at its scope.
	resp = e.do(t, "GET", "/api/v1/agents/resolve?role=ticket_review", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolution = decode[map[string]any](t, resp)
	assert.Equal(t, "codex", resolution["Provider"])
	assert.Equal(t, "", resolution["Model"])
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, "GET", "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
