package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/output"
	"github.com/sprintdeck/orc/internal/review"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

var (
	sessionEpic    string
	sessionStory   string
	sessionTitle   string
	sessionRole    string
	sessionMode    string
	sessionAgentID string
	sessionResume  string
	sessionSummary string
	sessionWait    bool
	sessionStream  string
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Manage agent sessions",
	Long:    "Start, inspect, and cancel agent sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun("", "")
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <project> <prompt>",
	Short: "Start an agent session against an epic or story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionStartRun(cmd.Context(), args[0], args[1])
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list [project]",
	Aliases: []string{"ls"},
	Short:   "List agent sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectRef string
		if len(args) > 0 {
			projectRef = args[0]
		}
		status, _ := cmd.Flags().GetString("status")
		return sessionListRun(projectRef, status)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

var sessionOutputCmd = &cobra.Command{
	Use:   "output <session-id>",
	Short: "Print a session's streamed output",
	Long:  "Print the session's chunk log. With --stream=final, prints only the last meaningful line.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionOutputRun(args[0])
	},
}

var sessionReviewCmd = &cobra.Command{
	Use:   "review <project>",
	Short: "Start a ticket-review session with the built-in review prompt",
	Long: `Start a ticket_review session against an epic or story. The prompt is
generated from the review template; the agent finishes with a verdict line
that 'orc session verdict' can classify.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionReviewRun(cmd.Context(), args[0])
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a queued or running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCancelRun(cmd.Context(), args[0])
	},
}

var sessionVerdictCmd = &cobra.Command{
	Use:   "verdict <session-id>",
	Short: "Classify a review session's final text as a verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionVerdictRun(cmd.Context(), args[0])
	},
}

func init() {
	sessionStartCmd.Flags().StringVar(&sessionEpic, "epic", "", "Target epic id")
	sessionStartCmd.Flags().StringVar(&sessionStory, "story", "", "Target story id")
	sessionStartCmd.Flags().StringVar(&sessionTitle, "epic-title", "", "Epic title, used for branch naming")
	sessionStartCmd.Flags().StringVar(&sessionRole, "role", string(models.RoleTicketBuild), "Agent role")
	sessionStartCmd.Flags().StringVar(&sessionMode, "mode", string(models.SessionModeCode), "Session mode: code or plan")
	sessionStartCmd.Flags().StringVar(&sessionAgentID, "agent", "", "Named agent config id (bypasses role defaults)")
	sessionStartCmd.Flags().StringVar(&sessionResume, "resume-from", "", "Prior session id to resume the provider conversation from")
	sessionStartCmd.Flags().BoolVar(&sessionWait, "wait", false, "Block until the session reaches a terminal state")

	sessionListCmd.Flags().String("status", "", "Filter by status: queued, running, completed, failed, cancelled")
	sessionOutputCmd.Flags().StringVar(&sessionStream, "stream", "output", "Stream to print: output, response, raw, final")

	sessionReviewCmd.Flags().StringVar(&sessionEpic, "epic", "", "Target epic id")
	sessionReviewCmd.Flags().StringVar(&sessionStory, "story", "", "Target story id")
	sessionReviewCmd.Flags().StringVar(&sessionTitle, "epic-title", "", "Epic title, used for branch naming")
	sessionReviewCmd.Flags().StringVar(&sessionSummary, "summary", "", "Short summary of what is being reviewed")
	sessionReviewCmd.Flags().StringVar(&sessionAgentID, "agent", "", "Named agent config id (bypasses role defaults)")
	sessionReviewCmd.Flags().BoolVar(&sessionWait, "wait", false, "Block until the session reaches a terminal state")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionReviewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionOutputCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	sessionCmd.AddCommand(sessionVerdictCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionStartRun(ctx context.Context, projectRef, prompt string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	p, err := resolveProject(ctx, s, projectRef)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would start %s session for project %s (epic=%s story=%s)",
			sessionRole, p.Name, sessionEpic, sessionStory)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
	mgr := getManager(s, logger)

	session, err := mgr.Start(ctx, sessions.StartInput{
		ProjectID:    p.ID,
		EpicID:       sessionEpic,
		StoryID:      sessionStory,
		EpicTitle:    sessionTitle,
		Role:         models.AgentRole(sessionRole),
		Mode:         models.SessionMode(sessionMode),
		Prompt:       prompt,
		NamedAgentID: sessionAgentID,
		ResumeFrom:   sessionResume,
	})
	if err != nil {
		return err
	}

	ui.Success("Session %s started (%s, %s)", session.ID, session.Provider, session.Status)
	if session.Branch != "" {
		ui.Info("Worktree %s on branch %s", session.WorktreePath, session.Branch)
	}

	if !sessionWait {
		return nil
	}
	ui.Info("Waiting for session to finish...")
	final, err := mgr.Wait(ctx, session.ID)
	if err != nil {
		return err
	}
	ui.Info("Session %s: %s", final.ID, output.StatusColor(string(final.Status)))
	if final.Error != "" {
		ui.Error("%s", final.Error)
	}
	if text, err := mgr.FinalText(ctx, final.ID); err == nil && text != "" {
		fmt.Fprintln(ui.Out, text)
	}
	return nil
}

func sessionReviewRun(ctx context.Context, projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	p, err := resolveProject(ctx, s, projectRef)
	if err != nil {
		return err
	}

	branch := ""
	if sessionEpic != "" {
		branch = wt.EpicBranch(sessionEpic, sessionTitle)
	}
	prompt := review.BuildPrompt(review.Target{
		EpicID:     sessionEpic,
		StoryID:    sessionStory,
		Title:      sessionTitle,
		Summary:    sessionSummary,
		ProjectID:  p.ID,
		BranchName: branch,
	}, review.DefaultConfig())

	if dryRun {
		ui.DryRunMsg("Would start review session for project %s (epic=%s story=%s)",
			p.Name, sessionEpic, sessionStory)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, prompt)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
	mgr := getManager(s, logger)

	session, err := mgr.Start(ctx, sessions.StartInput{
		ProjectID:    p.ID,
		EpicID:       sessionEpic,
		StoryID:      sessionStory,
		EpicTitle:    sessionTitle,
		Role:         models.RoleTicketReview,
		Mode:         models.SessionModeCode,
		Prompt:       prompt,
		NamedAgentID: sessionAgentID,
	})
	if err != nil {
		return err
	}

	ui.Success("Review session %s started (%s)", session.ID, session.Provider)
	if !sessionWait {
		return nil
	}
	final, err := mgr.Wait(ctx, session.ID)
	if err != nil {
		return err
	}
	text, err := mgr.FinalText(ctx, final.ID)
	if err != nil {
		return err
	}
	verdict, err := review.NewPhraseClassifier().Classify(ctx, text)
	if err != nil {
		return err
	}
	ui.Info("Verdict: %s", output.VerdictColor(string(verdict)))
	return nil
}

func sessionListRun(projectRef, status string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.SessionFilter{}
	if projectRef != "" {
		p, err := resolveProject(ctx, s, projectRef)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}
	if status != "" {
		st := models.SessionStatus(status)
		if !models.ValidSessionStatus(st) {
			return fmt.Errorf("unknown status: %s", status)
		}
		filter.Statuses = []models.SessionStatus{st}
	}

	list, err := s.ListAgentSessions(ctx, filter)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		ui.Info("No sessions. Use 'orc session start' to launch one.")
		return nil
	}
	return renderSessionTable(ctx, s, list)
}

// renderSessionTable prints sessions in the shared list layout.
func renderSessionTable(ctx context.Context, s store.Store, list []*models.AgentSession) error {
	projectNames := map[string]string{}
	table := ui.Table([]string{"ID", "Project", "Target", "Provider", "Status", "Age"})
	for _, session := range list {
		name, ok := projectNames[session.ProjectID]
		if !ok {
			name = session.ProjectID
			if p, err := s.GetProject(ctx, session.ProjectID); err == nil {
				name = p.Name
			}
			projectNames[session.ProjectID] = name
		}
		table.Append([]string{
			session.ID,
			name,
			sessionTarget(session),
			session.Provider,
			output.StatusColor(string(session.Status)),
			timeAgo(session.CreatedAt),
		})
	}
	return table.Render()
}

func sessionShowRun(sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	session, err := s.GetAgentSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(session.ID))
	fmt.Fprintf(ui.Out, "  Status:    %s\n", output.StatusColor(string(session.Status)))
	fmt.Fprintf(ui.Out, "  Target:    %s\n", sessionTarget(session))
	fmt.Fprintf(ui.Out, "  Mode:      %s\n", session.Mode)
	fmt.Fprintf(ui.Out, "  Provider:  %s", session.Provider)
	if session.Model != "" {
		fmt.Fprintf(ui.Out, " (%s)", session.Model)
	}
	fmt.Fprintln(ui.Out)
	if session.Branch != "" {
		fmt.Fprintf(ui.Out, "  Branch:    %s\n", session.Branch)
		fmt.Fprintf(ui.Out, "  Worktree:  %s\n", session.WorktreePath)
	}
	if session.ProviderSession != "" {
		fmt.Fprintf(ui.Out, "  Resume id: %s\n", session.ProviderSession)
	}
	fmt.Fprintf(ui.Out, "  Created:   %s\n", session.CreatedAt.Format(time.RFC3339))
	if session.StartedAt != nil {
		fmt.Fprintf(ui.Out, "  Started:   %s\n", session.StartedAt.Format(time.RFC3339))
	}
	if session.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  Ended:     %s\n", session.EndedAt.Format(time.RFC3339))
	}
	if session.Error != "" {
		fmt.Fprintf(ui.Out, "  Error:     %s\n", output.Red(session.Error))
	}

	count, err := s.CountChunks(ctx, session.ID)
	if err == nil {
		fmt.Fprintf(ui.Out, "  Chunks:    %d\n", count)
	}
	return nil
}

func sessionOutputRun(sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if _, err := s.GetAgentSession(ctx, sessionID); err != nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if sessionStream == "final" {
		logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
		text, err := getManager(s, logger).FinalText(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, text)
		return nil
	}

	var stream models.StreamType
	switch sessionStream {
	case "output":
		stream = models.StreamOutput
	case "response":
		stream = models.StreamResponse
	case "raw":
		stream = models.StreamRaw
	default:
		return fmt.Errorf("unknown stream: %s", sessionStream)
	}

	chunks, err := s.ListChunks(ctx, sessionID, stream)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		fmt.Fprintln(ui.Out, chunk.Content)
	}
	return nil
}

func sessionCancelRun(ctx context.Context, sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would cancel session %s", sessionID)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
	session, err := getManager(s, logger).Cancel(ctx, sessionID)
	if err != nil {
		return err
	}
	ui.Success("Session %s cancelled", session.ID)
	return nil
}

func sessionVerdictRun(ctx context.Context, sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
	text, err := getManager(s, logger).FinalText(ctx, sessionID)
	if err != nil {
		return err
	}

	verdict, err := review.NewPhraseClassifier().Classify(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, output.VerdictColor(string(verdict)))
	return nil
}

// sessionTarget renders the epic/story target of a session.
func sessionTarget(session *models.AgentSession) string {
	switch {
	case session.StoryID != "":
		return fmt.Sprintf("story %s (epic %s)", session.StoryID, session.EpicID)
	case session.EpicID != "":
		return "epic " + session.EpicID
	default:
		return "-"
	}
}

// resolveProject finds a project by name first, then by id.
func resolveProject(ctx context.Context, s store.Store, ref string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, ref); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, ref); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", ref)
}

// timeAgo renders a compact relative time like "3h" or "2d".
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
