package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sprintdeck/orc/internal/agent"
	"github.com/sprintdeck/orc/internal/dispatch"
	"github.com/sprintdeck/orc/internal/output"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
	"github.com/sprintdeck/orc/internal/wt"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "orc",
	Short: "Agent orchestrator - run coding agents against epics and stories",
	Long: `orc launches AI coding agents (claude-code, codex, gemini) against
epics and stories, one session per target at a time. It tracks session
state, streams agent output into an append-only chunk log, and exposes
everything over an HTTP API and an MCP stdio server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return sessionListRun("", "")
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/orc/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "orc")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ORC")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "orc")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "orc.db"))
	viper.SetDefault("serve.addr", ":7483")
	viper.SetDefault("agent.seed_model", agent.DefaultSeedModel)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("review.max_attempts", 3)
	viper.SetDefault("review.allowed_tools", "Read Write Edit Glob Grep Bash(git:*) Bash(make:*) Bash(go:*) mcp__orc__*")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily — only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call. The seed
// agent is re-ensured on every open so a fresh database is usable at once.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if _, err := agent.EnsureSeedAgent(ctx, s, viper.GetString("agent.seed_model")); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("seed agent: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getManager wires the session manager to a real process dispatcher. Process
// exits flow back into the manager through HandleCompletion.
func getManager(s store.Store, logger *slog.Logger) *sessions.Manager {
	mgr := sessions.NewManager(s, logger)
	mgr.SetDispatcher(dispatch.NewExecDispatcher(s, logger, mgr.HandleCompletion))
	mgr.SetWorktreeFactory(func(repoPath string) sessions.WorktreeClient {
		return wt.NewClient(repoPath)
	})
	return mgr
}
