package models

import "time"

// Known provider identifiers. Providers are interchangeable external agent
// CLIs; the dispatcher maps each to its binary invocation.
const (
	ProviderClaudeCode = "claude-code"
	ProviderCodex      = "codex"
	ProviderGemini     = "gemini"
)

// ValidProvider reports whether p names a known provider.
func ValidProvider(p string) bool {
	return p == ProviderClaudeCode || p == ProviderCodex || p == ProviderGemini
}

// AgentRole is the logical job a session is launched for.
type AgentRole string

const (
	RoleTicketBuild    AgentRole = "ticket_build"
	RoleTicketReview   AgentRole = "ticket_review"
	RoleSecurityReview AgentRole = "security_review"
	RoleEpicPlan       AgentRole = "epic_plan"
)

// ScopeGlobal is the role-default scope that applies to every project.
const ScopeGlobal = "global"

// SeedAgentName is the display name of the system-maintained fallback named
// agent. It is re-seeded idempotently at startup and resolved by name, never
// by a hard-coded id.
const SeedAgentName = "Claude Code"

// NamedAgentConfig is a saved, user-labeled (provider, model) pair.
// Display names are globally unique.
type NamedAgentConfig struct {
	ID        string
	Name      string
	Provider  string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentRoleDefault maps (role, scope) to a provider and an optional named
// agent reference. Scope is either ScopeGlobal or a project id. It is only
// ever read by the resolver as fallback input.
type AgentRoleDefault struct {
	ID           string
	Role         AgentRole
	Scope        string
	Provider     string
	NamedAgentID string // empty when the default carries a bare provider
	UpdatedAt    time.Time
}
