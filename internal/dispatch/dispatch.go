// Package dispatch spawns provider CLI subprocesses and feeds their output
// into the chunk store. It owns process bookkeeping only; session state
// transitions belong to the sessions manager, which observes completions
// through the OnExit callback.
package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/store"
)

// StartOptions configures one provider invocation.
type StartOptions struct {
	Mode              models.SessionMode
	Prompt            string
	Cwd               string
	Model             string // optional
	ProviderSessionID string // optional, for resumption
	Resume            bool
}

// Status is a point-in-time view of a dispatched process.
type Status struct {
	Running  bool
	ExitCode int
	Err      error
}

// Completion is delivered once per dispatched session when its process exits.
type Completion struct {
	SessionID string
	ExitCode  int
	Err       error
	// Output is the accumulated stdout text, used for final normalization.
	Output string
}

// Dispatcher is the boundary between session orchestration and process
// management. Implementations must deliver exactly one Completion per
// successful Start.
type Dispatcher interface {
	Start(ctx context.Context, sessionID string, opts StartOptions, provider string) error
	Status(sessionID string) (Status, bool)
	Kill(sessionID string) bool
}

// Sink receives streamed output fragments.
type Sink interface {
	AppendChunk(ctx context.Context, params store.AppendChunkParams) (*models.AgentSessionChunk, bool, error)
}

// killGrace is how long a terminated process gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

type process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status Status
}

// ExecDispatcher runs providers as OS subprocesses. Stdout lines are appended
// as output chunks keyed "stdout:<n>" and stderr lines as raw chunks keyed
// "stderr:<n>", so a crashed-and-replayed feed never duplicates rows.
type ExecDispatcher struct {
	sink   Sink
	logger *slog.Logger
	onExit func(Completion)

	mu    sync.Mutex
	procs map[string]*process
}

// NewExecDispatcher creates a dispatcher that streams into sink and reports
// process exits through onExit (may be nil).
func NewExecDispatcher(sink Sink, logger *slog.Logger, onExit func(Completion)) *ExecDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecDispatcher{
		sink:   sink,
		logger: logger,
		onExit: onExit,
		procs:  make(map[string]*process),
	}
}

// Start launches the provider process for a session. It returns once the
// process has started; streaming and the exit callback run in background
// goroutines.
func (d *ExecDispatcher) Start(ctx context.Context, sessionID string, opts StartOptions, provider string) error {
	argv, err := providerArgv(provider, opts)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if p, ok := d.procs[sessionID]; ok && p.status.Running {
		d.mu.Unlock()
		return fmt.Errorf("session %s already has a running process", sessionID)
	}
	d.mu.Unlock()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", provider, err)
	}

	d.logger.Info("provider started",
		"session", sessionID, "provider", provider, "pid", cmd.Process.Pid, "cwd", opts.Cwd)

	p := &process{cmd: cmd, done: make(chan struct{}), status: Status{Running: true}}
	d.mu.Lock()
	d.procs[sessionID] = p
	d.mu.Unlock()

	var output strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.streamLines(sessionID, stdout, models.StreamOutput, "stdout", &output)
	}()
	go func() {
		defer wg.Done()
		d.streamLines(sessionID, stderr, models.StreamRaw, "stderr", nil)
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			exitCode = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			}
		}

		d.mu.Lock()
		p.status = Status{Running: false, ExitCode: exitCode, Err: err}
		d.mu.Unlock()
		close(p.done)

		d.logger.Info("provider exited", "session", sessionID, "exit_code", exitCode)
		if d.onExit != nil {
			d.onExit(Completion{
				SessionID: sessionID,
				ExitCode:  exitCode,
				Err:       err,
				Output:    output.String(),
			})
		}
	}()

	return nil
}

// streamLines appends each line of r as one chunk. Line numbering per feed
// makes the chunk keys stable.
func (d *ExecDispatcher) streamLines(sessionID string, r io.Reader, stream models.StreamType, feed string, collect *strings.Builder) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if collect != nil {
			collect.WriteString(line)
			collect.WriteString("\n")
		}
		_, _, err := d.sink.AppendChunk(context.Background(), store.AppendChunkParams{
			SessionID:  sessionID,
			StreamType: stream,
			Content:    line,
			ChunkKey:   fmt.Sprintf("%s:%d", feed, n),
		})
		if err != nil {
			d.logger.Warn("append chunk failed", "session", sessionID, "feed", feed, "error", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		d.logger.Warn("stream read failed", "session", sessionID, "feed", feed, "error", err)
	}
}

// Status reports the process state for a session. The second return is false
// when the session was never dispatched here.
func (d *ExecDispatcher) Status(sessionID string) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.procs[sessionID]
	if !ok {
		return Status{}, false
	}
	return p.status, true
}

// Kill terminates a session's process: SIGTERM first, SIGKILL after a grace
// period. Returns false when no live process exists for the session.
func (d *ExecDispatcher) Kill(sessionID string) bool {
	d.mu.Lock()
	p, ok := d.procs[sessionID]
	if !ok || !p.status.Running {
		d.mu.Unlock()
		return false
	}
	cmd := p.cmd
	d.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return false
	}

	go func() {
		select {
		case <-p.done:
		case <-time.After(killGrace):
			d.logger.Warn("process ignored SIGTERM, killing", "session", sessionID)
			_ = cmd.Process.Kill()
		}
	}()
	return true
}

// providerArgv maps a provider to its CLI invocation. Every provider gets the
// prompt and runs non-interactively with machine-readable output.
func providerArgv(provider string, opts StartOptions) ([]string, error) {
	switch provider {
	case models.ProviderClaudeCode:
		argv := []string{"claude", "-p", opts.Prompt, "--output-format", "stream-json", "--verbose"}
		if opts.Mode == models.SessionModePlan {
			argv = append(argv, "--permission-mode", "plan")
		} else {
			argv = append(argv, "--dangerously-skip-permissions")
		}
		if opts.Model != "" {
			argv = append(argv, "--model", opts.Model)
		}
		if opts.Resume && opts.ProviderSessionID != "" {
			argv = append(argv, "--resume", opts.ProviderSessionID)
		}
		return argv, nil

	case models.ProviderCodex:
		argv := []string{"codex", "exec", "--json"}
		if opts.Resume && opts.ProviderSessionID != "" {
			argv = append(argv, "resume", opts.ProviderSessionID)
		}
		if opts.Model != "" {
			argv = append(argv, "-m", opts.Model)
		}
		if opts.Mode == models.SessionModePlan {
			argv = append(argv, "--sandbox", "read-only")
		} else {
			argv = append(argv, "--full-auto")
		}
		argv = append(argv, opts.Prompt)
		return argv, nil

	case models.ProviderGemini:
		argv := []string{"gemini", "-p", opts.Prompt, "-o", "json"}
		if opts.Model != "" {
			argv = append(argv, "-m", opts.Model)
		}
		if opts.Mode != models.SessionModePlan {
			argv = append(argv, "--yolo")
		}
		return argv, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
