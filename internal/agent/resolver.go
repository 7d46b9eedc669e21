// Package agent resolves which provider and model a session should run with,
// and maintains the seeded fallback agent configuration.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
)

// ConfigStore is the subset of store.Store needed for resolution.
type ConfigStore interface {
	GetNamedAgent(ctx context.Context, id string) (*models.NamedAgentConfig, error)
	GetNamedAgentByName(ctx context.Context, name string) (*models.NamedAgentConfig, error)
	GetRoleDefault(ctx context.Context, role models.AgentRole, scope string) (*models.AgentRoleDefault, error)
}

// Resolution is the outcome of resolving an agent for a role.
type Resolution struct {
	Provider     string
	Model        string // empty when only a bare provider was resolved
	NamedAgentID string
	Name         string
}

// Resolve walks the fallback chain and returns the first match:
//
//  1. explicitNamedAgentID, when non-empty and the agent still exists
//  2. the role default at scope projectID
//  3. the role default at the global scope
//  4. the seeded "Claude Code" named agent
//  5. the hard-coded claude-code provider
//
// A role default that references a deleted named agent resolves to the
// default's bare provider at that scope. It does not escalate further: the
// provider choice survives the preset's deletion.
func Resolve(ctx context.Context, s ConfigStore, role models.AgentRole, projectID, explicitNamedAgentID string) (*Resolution, error) {
	if explicitNamedAgentID != "" {
		named, err := s.GetNamedAgent(ctx, explicitNamedAgentID)
		if err == nil {
			return fromNamed(named), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve explicit agent: %w", err)
		}
	}

	scopes := []string{}
	if projectID != "" {
		scopes = append(scopes, projectID)
	}
	scopes = append(scopes, models.ScopeGlobal)

	for _, scope := range scopes {
		def, err := s.GetRoleDefault(ctx, role, scope)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve role default: %w", err)
		}
		return resolveDefault(ctx, s, def)
	}

	seeded, err := s.GetNamedAgentByName(ctx, models.SeedAgentName)
	if err == nil {
		return fromNamed(seeded), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve seeded agent: %w", err)
	}

	return &Resolution{Provider: models.ProviderClaudeCode}, nil
}

func resolveDefault(ctx context.Context, s ConfigStore, def *models.AgentRoleDefault) (*Resolution, error) {
	if def.NamedAgentID != "" {
		named, err := s.GetNamedAgent(ctx, def.NamedAgentID)
		if err == nil {
			return fromNamed(named), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve default agent: %w", err)
		}
		// Referenced agent was deleted: keep the default's provider choice.
	}
	return &Resolution{Provider: def.Provider}, nil
}

func fromNamed(named *models.NamedAgentConfig) *Resolution {
	return &Resolution{
		Provider:     named.Provider,
		Model:        named.Model,
		NamedAgentID: named.ID,
		Name:         named.Name,
	}
}
