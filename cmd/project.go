package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

var projectName string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
	Long:  "Register, list, and remove the repositories sessions run against.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a project repository",
	Long:  "Register a git repository so sessions can target it. Use '.' for the current directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show project details and recent sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectName, "name", "", "Override project name (default: directory name)")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(rawPath string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absPath)
	}
	if _, err := os.Stat(filepath.Join(absPath, ".git")); err != nil {
		return fmt.Errorf("not a git repository: %s", absPath)
	}

	name := projectName
	if name == "" {
		name = filepath.Base(absPath)
	}

	if dryRun {
		ui.DryRunMsg("Would register project %s at %s", name, absPath)
		return nil
	}

	p := &models.Project{Name: name, RepoPath: absPath}
	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("register project: %w", err)
	}

	ui.Success("Project %s registered (%s)", p.Name, p.ID)
	return nil
}

func projectRemoveRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project %s", p.Name)
		return nil
	}
	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return err
	}
	ui.Success("Project %s removed", p.Name)
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects registered. Use 'orc project add <path>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "ID", "Path", "Active"})
	for _, p := range projects {
		active, _ := s.ListAgentSessions(ctx, store.SessionFilter{
			ProjectID: p.ID,
			Statuses:  []models.SessionStatus{models.SessionStatusQueued, models.SessionStatusRunning},
		})
		table.Append([]string{p.Name, p.ID, p.RepoPath, fmt.Sprintf("%d", len(active))})
	}
	return table.Render()
}

func projectShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", p.Name)
	fmt.Fprintf(ui.Out, "  ID:      %s\n", p.ID)
	fmt.Fprintf(ui.Out, "  Path:    %s\n", p.RepoPath)
	fmt.Fprintf(ui.Out, "  Added:   %s\n", p.CreatedAt.Format(time.RFC3339))

	client := wt.NewClient(p.RepoPath)
	if branch, err := client.CurrentBranch(p.RepoPath); err == nil {
		fmt.Fprintf(ui.Out, "  Branch:  %s\n", branch)
	}
	if worktrees, err := client.List(); err == nil && len(worktrees) > 0 {
		fmt.Fprintln(ui.Out, "  Worktrees:")
		for _, w := range worktrees {
			fmt.Fprintf(ui.Out, "    %s (%s)\n", w.Path, w.Branch)
		}
	}

	recent, err := s.ListAgentSessions(ctx, store.SessionFilter{ProjectID: p.ID, Limit: 10})
	if err != nil || len(recent) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	return renderSessionTable(ctx, s, recent)
}
