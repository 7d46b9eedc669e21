package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createNamed(t *testing.T, s *store.SQLiteStore, name, provider, model string) *models.NamedAgentConfig {
	t.Helper()
	a := &models.NamedAgentConfig{Name: name, Provider: provider, Model: model}
	require.NoError(t, s.CreateNamedAgent(context.Background(), a))
	return a
}

func TestResolveExplicitNamedAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	named := createNamed(t, s, "Fast Reviewer", models.ProviderCodex, "gpt-5-codex")

	res, err := Resolve(ctx, s, models.RoleTicketReview, "", named.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCodex, res.Provider)
	assert.Equal(t, "gpt-5-codex", res.Model)
	assert.Equal(t, named.ID, res.NamedAgentID)
	assert.Equal(t, "Fast Reviewer", res.Name)
}

func TestResolveExplicitMissingFallsThrough(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketBuild, Scope: models.ScopeGlobal, Provider: models.ProviderGemini,
	}))

	res, err := Resolve(ctx, s, models.RoleTicketBuild, "", "no-such-id")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, res.Provider)
	assert.Empty(t, res.NamedAgentID)
}

func TestResolveProjectScopeBeatsGlobal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketBuild, Scope: models.ScopeGlobal, Provider: models.ProviderGemini,
	}))
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketBuild, Scope: "proj-1", Provider: models.ProviderCodex,
	}))

	res, err := Resolve(ctx, s, models.RoleTicketBuild, "proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCodex, res.Provider)
}

func TestResolveDefaultWithNamedReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	named := createNamed(t, s, "Planner", models.ProviderClaudeCode, "claude-opus-4-5")
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleEpicPlan, Scope: models.ScopeGlobal,
		Provider: models.ProviderClaudeCode, NamedAgentID: named.ID,
	}))

	res, err := Resolve(ctx, s, models.RoleEpicPlan, "", "")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-5", res.Model)
	assert.Equal(t, "Planner", res.Name)
}

func TestResolveDeletedReferenceStopsAtScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	named := createNamed(t, s, "Doomed", models.ProviderCodex, "gpt-5-codex")
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketBuild, Scope: "proj-1",
		Provider: models.ProviderCodex, NamedAgentID: named.ID,
	}))
	// A global default that must NOT be reached.
	require.NoError(t, s.UpsertRoleDefault(ctx, &models.AgentRoleDefault{
		Role: models.RoleTicketBuild, Scope: models.ScopeGlobal, Provider: models.ProviderGemini,
	}))
	require.NoError(t, s.DeleteNamedAgent(ctx, named.ID))

	res, err := Resolve(ctx, s, models.RoleTicketBuild, "proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCodex, res.Provider)
	assert.Empty(t, res.Model)
	assert.Empty(t, res.Name)
	assert.Empty(t, res.NamedAgentID)
}

func TestResolveSeededAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := EnsureSeedAgent(ctx, s, "")
	require.NoError(t, err)

	res, err := Resolve(ctx, s, models.RoleTicketBuild, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderClaudeCode, res.Provider)
	assert.Equal(t, DefaultSeedModel, res.Model)
	assert.Equal(t, models.SeedAgentName, res.Name)
}

func TestResolveHardCodedFallback(t *testing.T) {
	s := newTestStore(t)

	res, err := Resolve(context.Background(), s, models.RoleSecurityReview, "proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderClaudeCode, res.Provider)
	assert.Empty(t, res.Model)
	assert.Empty(t, res.NamedAgentID)
}

func TestEnsureSeedAgentIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := EnsureSeedAgent(ctx, s, "claude-sonnet-4-5")
	require.NoError(t, err)

	// A user edit to the seeded agent survives re-seeding.
	first.Model = "claude-opus-4-5"
	require.NoError(t, s.UpdateNamedAgent(ctx, first))

	second, err := EnsureSeedAgent(ctx, s, "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "claude-opus-4-5", second.Model)

	all, err := s.ListNamedAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
