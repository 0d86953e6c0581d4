package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
)

// CommandFactoryFunc creates an exec.Cmd for testing purposes.
// It receives the context, executable path, and arguments.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// waitDelay bounds how long Wait blocks on inherited pipes after a kill.
const waitDelay = 5 * time.Second

// Handle is a started process with all three standard streams piped.
type Handle struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the process context. It is done when the process times out,
// the parent context is cancelled, or Release is called.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// TimedOut reports whether the process context hit its own deadline.
func (h *Handle) TimedOut() bool {
	return h.ctx.Err() == context.DeadlineExceeded
}

// PID returns the OS process ID, or -1 if not started.
func (h *Handle) PID() int {
	if h.Cmd == nil || h.Cmd.Process == nil {
		return -1
	}
	return h.Cmd.Process.Pid
}

// Release closes stdin and cancels the process context.
// Safe to call more than once.
func (h *Handle) Release() {
	if h.Stdin != nil {
		_ = h.Stdin.Close()
	}
	h.cancel()
}

// SpawnBuilder provides a fluent API for spawning headless agent processes.
// It consolidates the spawn boilerplate (context setup, pipe creation,
// process group setup, process start).
type SpawnBuilder struct {
	ctx            context.Context
	timeout        time.Duration
	execPath       string
	args           []string
	workDir        string
	env            []string
	providerName   string
	commandFactory CommandFactoryFunc
}

// NewSpawnBuilder creates a new SpawnBuilder with the given context.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:          ctx,
		providerName: "unknown",
	}
}

// WithExecutable sets the executable path and arguments.
func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the working directory for the process.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithTimeout sets the process timeout. If d is 0 or negative,
// a cancel-only context is created instead of a timeout context.
func (b *SpawnBuilder) WithTimeout(d time.Duration) *SpawnBuilder {
	b.timeout = d
	return b
}

// WithEnv sets additional environment variables to append to os.Environ().
// Variables are in the format "KEY=VALUE".
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithProviderName sets the provider name for logging and error messages.
func (b *SpawnBuilder) WithProviderName(name string) *SpawnBuilder {
	b.providerName = name
	return b
}

// WithCommandFactory sets a custom command factory for testing.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// Start validates the configuration, creates the pipes and starts the process.
//
// Stdin is always a pipe, never inherited, so the child cannot block on
// the parent's terminal. The child runs in its own process group and a
// cancelled context kills the whole group.
//
// On error, all created resources are cleaned up.
func (b *SpawnBuilder) Start() (*Handle, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("spawn builder: executable path is required")
	}

	var procCtx context.Context
	var cancel context.CancelFunc
	if b.timeout > 0 {
		procCtx, cancel = context.WithTimeout(b.ctx, b.timeout)
	} else {
		procCtx, cancel = context.WithCancel(b.ctx)
	}

	h := &Handle{ctx: procCtx, cancel: cancel}

	cleanup := func() {
		cancel()
		for _, c := range []io.Closer{h.Stdin, h.Stdout, h.Stderr} {
			if c != nil {
				_ = c.Close()
			}
		}
	}

	if b.commandFactory != nil {
		h.Cmd = b.commandFactory(procCtx, b.execPath, b.args...)
	} else {
		// #nosec G204 -- args are built by the caller from a fixed flag set
		h.Cmd = exec.CommandContext(procCtx, b.execPath, b.args...)
	}
	h.Cmd.Dir = b.workDir
	if len(b.env) > 0 {
		h.Cmd.Env = append(os.Environ(), b.env...)
	}
	configureProcessGroup(h.Cmd)
	h.Cmd.WaitDelay = waitDelay

	var err error
	if h.Stdin, err = h.Cmd.StdinPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdin pipe: %w", err)
	}
	if h.Stdout, err = h.Cmd.StdoutPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdout pipe: %w", err)
	}
	if h.Stderr, err = h.Cmd.StderrPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stderr pipe: %w", err)
	}

	log.Debug(log.CatOrch, "Spawning process",
		"subsystem", b.providerName,
		"execPath", b.execPath,
		"workDir", b.workDir)

	if err := h.Cmd.Start(); err != nil {
		cleanup()
		return nil, err
	}

	log.Debug(log.CatOrch, "Process started",
		"subsystem", b.providerName,
		"pid", h.Cmd.Process.Pid)

	return h, nil
}
