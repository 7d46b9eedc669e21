package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sprintdeck/orc/internal/api"
	"github.com/sprintdeck/orc/internal/daemon"
	"github.com/sprintdeck/orc/internal/review"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator HTTP API server",
	Long: `Run the orchestrator HTTP API in the foreground.

Use 'orc serve start' to run it as a background daemon instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().String("addr", ":7483", "Listen address")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "orc-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "orc-serve.log")
}

// serveRun hosts the API in the foreground until an interrupt arrives.
func serveRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mgr := getManager(s, logger)

	var classifier review.Classifier
	if key := viper.GetString("anthropic.api_key"); key != "" {
		classifier = review.NewLLMClassifier(key, viper.GetString("anthropic.model"))
	}

	pf := pidFile()
	if err := pf.Write(); err != nil {
		logger.Warn("cannot write pid file", "path", pf.Path, "error", err)
	} else {
		defer func() { _ = pf.Remove() }()
	}

	addr := viper.GetString("serve.addr")
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(s, mgr, classifier, logger).Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveStartRun forks a detached `orc serve` and records its PID.
func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve")
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if dryRun {
		ui.DryRunMsg("Would start background server: %s serve", exe)
		return nil
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	ui.Success("Server started (pid %d), logs at %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		if pid != 0 {
			_ = pf.Remove()
			return fmt.Errorf("server not running (stale pid %d removed)", pid)
		}
		return fmt.Errorf("server not running (no pid file at %s)", pf.Path)
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	_ = pf.Remove()
	ui.Success("Server stopped (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, err := pf.Read()
	if err != nil {
		ui.Info("Server not running")
		return nil
	}
	if _, running := pf.IsRunning(); running {
		ui.Success("Server running (pid %d)", pid)
	} else {
		ui.Warning("Stale pid file (pid %d not alive): %s", pid, pf.Path)
	}
	return nil
}
