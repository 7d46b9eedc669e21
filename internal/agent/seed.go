package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
)

// DefaultSeedModel is the model the seeded fallback agent starts with. The
// seed only fills gaps, so a user edit to the model sticks across restarts.
const DefaultSeedModel = "claude-sonnet-4-5"

// SeedStore is the subset of store.Store needed for seeding.
type SeedStore interface {
	GetNamedAgentByName(ctx context.Context, name string) (*models.NamedAgentConfig, error)
	CreateNamedAgent(ctx context.Context, a *models.NamedAgentConfig) error
}

// EnsureSeedAgent creates the "Claude Code" fallback named agent if it does
// not exist. Idempotent; called at startup.
func EnsureSeedAgent(ctx context.Context, s SeedStore, model string) (*models.NamedAgentConfig, error) {
	if model == "" {
		model = DefaultSeedModel
	}

	existing, err := s.GetNamedAgentByName(ctx, models.SeedAgentName)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up seed agent: %w", err)
	}

	now := time.Now().UTC()
	seed := &models.NamedAgentConfig{
		Name:      models.SeedAgentName,
		Provider:  models.ProviderClaudeCode,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateNamedAgent(ctx, seed); err != nil {
		return nil, fmt.Errorf("create seed agent: %w", err)
	}
	return seed, nil
}
