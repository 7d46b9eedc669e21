package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sprintdeck/orc/internal/agent"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
)

var (
	agentProvider string
	agentModel    string
	agentScope    string
	agentRef      string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage named agent configs and role defaults",
	Long: `Manage the saved (provider, model) pairs that sessions resolve
their agent from, and the per-role defaults that pick one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List named agent configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a named agent config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAddRun(args[0])
	},
}

var agentRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a named agent config",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentRemoveRun(args[0])
	},
}

var agentDefaultCmd = &cobra.Command{
	Use:   "default <role> <agent-name-or-provider>",
	Short: "Set the default agent for a role",
	Long: `Set the default agent for a role, either globally or for one project.

The second argument is a named agent config (by name or id) or a bare
provider (claude-code, codex, gemini).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentDefaultRun(args[0], args[1])
	},
}

var agentDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "List role defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentDefaultsRun()
	},
}

var agentResolveCmd = &cobra.Command{
	Use:   "resolve <role>",
	Short: "Preview which provider and model a role resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentResolveRun(cmd.Context(), args[0])
	},
}

var agentExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export agent configs and defaults as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return agentExportRun(path)
	},
}

var agentImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import agent configs and defaults from YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentImportRun(args[0])
	},
}

func init() {
	agentAddCmd.Flags().StringVar(&agentProvider, "provider", models.ProviderClaudeCode, "Provider: claude-code, codex, gemini")
	agentAddCmd.Flags().StringVar(&agentModel, "model", "", "Model identifier passed to the provider")

	agentDefaultCmd.Flags().StringVar(&agentScope, "project", "", "Project name or id (default: global scope)")
	agentResolveCmd.Flags().StringVar(&agentScope, "project", "", "Project name or id for project-scoped defaults")
	agentResolveCmd.Flags().StringVar(&agentRef, "agent", "", "Explicit named agent config id")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentAddCmd)
	agentCmd.AddCommand(agentRemoveCmd)
	agentCmd.AddCommand(agentDefaultCmd)
	agentCmd.AddCommand(agentDefaultsCmd)
	agentCmd.AddCommand(agentResolveCmd)
	agentCmd.AddCommand(agentExportCmd)
	agentCmd.AddCommand(agentImportCmd)
	rootCmd.AddCommand(agentCmd)
}

func agentListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	agents, err := s.ListNamedAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		ui.Info("No named agents. Use 'orc agent add <name>' to create one.")
		return nil
	}

	table := ui.Table([]string{"Name", "Provider", "Model", "ID"})
	for _, a := range agents {
		table.Append([]string{a.Name, a.Provider, a.Model, a.ID})
	}
	return table.Render()
}

func agentAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if !models.ValidProvider(agentProvider) {
		return fmt.Errorf("unknown provider: %s", agentProvider)
	}

	if dryRun {
		ui.DryRunMsg("Would create agent %s (%s/%s)", name, agentProvider, agentModel)
		return nil
	}

	a := &models.NamedAgentConfig{Name: name, Provider: agentProvider, Model: agentModel}
	if err := s.CreateNamedAgent(context.Background(), a); err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	ui.Success("Agent %s created (%s)", a.Name, a.ID)
	return nil
}

func agentRemoveRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := resolveNamedAgent(ctx, s, ref)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete agent %s", a.Name)
		return nil
	}
	if err := s.DeleteNamedAgent(ctx, a.ID); err != nil {
		return err
	}
	ui.Success("Agent %s deleted", a.Name)
	return nil
}

func agentDefaultRun(roleArg, target string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	role := models.AgentRole(roleArg)
	scope := models.ScopeGlobal
	if agentScope != "" {
		p, err := resolveProject(ctx, s, agentScope)
		if err != nil {
			return err
		}
		scope = p.ID
	}

	d := &models.AgentRoleDefault{Role: role, Scope: scope}
	if named, err := resolveNamedAgent(ctx, s, target); err == nil {
		d.NamedAgentID = named.ID
		d.Provider = named.Provider
	} else if models.ValidProvider(target) {
		d.Provider = target
	} else {
		return fmt.Errorf("no agent or provider named %q", target)
	}

	if dryRun {
		ui.DryRunMsg("Would set %s default for %s to %s", scope, role, target)
		return nil
	}
	if err := s.UpsertRoleDefault(ctx, d); err != nil {
		return err
	}
	ui.Success("Default for %s (%s) set to %s", role, scope, target)
	return nil
}

func agentDefaultsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	defaults, err := s.ListRoleDefaults(ctx)
	if err != nil {
		return err
	}
	if len(defaults) == 0 {
		ui.Info("No role defaults set. Sessions fall back to the seeded agent.")
		return nil
	}

	table := ui.Table([]string{"Role", "Scope", "Provider", "Agent"})
	for _, d := range defaults {
		agentName := "-"
		if d.NamedAgentID != "" {
			if a, err := s.GetNamedAgent(ctx, d.NamedAgentID); err == nil {
				agentName = a.Name
			} else {
				agentName = d.NamedAgentID + " (deleted)"
			}
		}
		table.Append([]string{string(d.Role), d.Scope, d.Provider, agentName})
	}
	return table.Render()
}

func agentResolveRun(ctx context.Context, roleArg string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projectID := ""
	if agentScope != "" {
		p, err := resolveProject(ctx, s, agentScope)
		if err != nil {
			return err
		}
		projectID = p.ID
	}

	resolution, err := agent.Resolve(ctx, s, models.AgentRole(roleArg), projectID, agentRef)
	if err != nil {
		return err
	}

	if resolution.Name != "" {
		ui.Info("%s -> %s (%s / %s)", roleArg, resolution.Name, resolution.Provider, resolution.Model)
	} else if resolution.Model != "" {
		ui.Info("%s -> %s / %s", roleArg, resolution.Provider, resolution.Model)
	} else {
		ui.Info("%s -> %s", roleArg, resolution.Provider)
	}
	return nil
}

// agentExportDoc is the YAML document shape for export/import.
type agentExportDoc struct {
	Agents   []agentExportEntry   `yaml:"agents"`
	Defaults []defaultExportEntry `yaml:"defaults,omitempty"`
}

type agentExportEntry struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
}

type defaultExportEntry struct {
	Role     string `yaml:"role"`
	Scope    string `yaml:"scope,omitempty"`
	Agent    string `yaml:"agent,omitempty"`
	Provider string `yaml:"provider,omitempty"`
}

func agentExportRun(path string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	agents, err := s.ListNamedAgents(ctx)
	if err != nil {
		return err
	}
	defaults, err := s.ListRoleDefaults(ctx)
	if err != nil {
		return err
	}

	var doc agentExportDoc
	names := map[string]string{}
	for _, a := range agents {
		doc.Agents = append(doc.Agents, agentExportEntry{Name: a.Name, Provider: a.Provider, Model: a.Model})
		names[a.ID] = a.Name
	}
	for _, d := range defaults {
		entry := defaultExportEntry{Role: string(d.Role), Provider: d.Provider}
		if d.Scope != models.ScopeGlobal {
			entry.Scope = d.Scope
		}
		if name, ok := names[d.NamedAgentID]; ok {
			entry.Agent = name
		}
		doc.Defaults = append(doc.Defaults, entry)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	var out io.Writer = ui.Out
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if path != "" {
		ui.Success("Exported %d agents and %d defaults to %s", len(doc.Agents), len(doc.Defaults), path)
	}
	return nil
}

func agentImportRun(path string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc agentExportDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	imported := 0
	for _, in := range doc.Agents {
		if !models.ValidProvider(in.Provider) {
			return fmt.Errorf("agent %q: unknown provider %q", in.Name, in.Provider)
		}
		if dryRun {
			ui.DryRunMsg("Would import agent %s (%s/%s)", in.Name, in.Provider, in.Model)
			continue
		}
		// Upsert by name so re-imports are idempotent.
		if existing, err := s.GetNamedAgentByName(ctx, in.Name); err == nil {
			existing.Provider = in.Provider
			existing.Model = in.Model
			if err := s.UpdateNamedAgent(ctx, existing); err != nil {
				return err
			}
		} else {
			a := &models.NamedAgentConfig{Name: in.Name, Provider: in.Provider, Model: in.Model}
			if err := s.CreateNamedAgent(ctx, a); err != nil {
				return err
			}
		}
		imported++
	}

	for _, in := range doc.Defaults {
		scope := in.Scope
		if scope == "" {
			scope = models.ScopeGlobal
		}
		d := &models.AgentRoleDefault{Role: models.AgentRole(in.Role), Scope: scope, Provider: in.Provider}
		if in.Agent != "" {
			a, err := s.GetNamedAgentByName(ctx, in.Agent)
			if err != nil {
				return fmt.Errorf("default %s references unknown agent %q", in.Role, in.Agent)
			}
			d.NamedAgentID = a.ID
			if d.Provider == "" {
				d.Provider = a.Provider
			}
		}
		if dryRun {
			ui.DryRunMsg("Would set %s default for %s", scope, in.Role)
			continue
		}
		if err := s.UpsertRoleDefault(ctx, d); err != nil {
			return err
		}
	}

	if !dryRun {
		ui.Success("Imported %d agents and %d defaults from %s", imported, len(doc.Defaults), path)
	}
	return nil
}

// resolveNamedAgent finds a named agent by display name first, then by id.
func resolveNamedAgent(ctx context.Context, s store.Store, ref string) (*models.NamedAgentConfig, error) {
	if a, err := s.GetNamedAgentByName(ctx, ref); err == nil {
		return a, nil
	}
	if a, err := s.GetNamedAgent(ctx, ref); err == nil {
		return a, nil
	}
	return nil, fmt.Errorf("agent not found: %s", ref)
}
