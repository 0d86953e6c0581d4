package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/client"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/metrics"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/tracing"
)

const (
	// DefaultBinary is the executable name looked up on PATH.
	DefaultBinary = "gemini"

	readChunkSize = 32 * 1024

	// drainGrace bounds how long the readers may keep a cancelled
	// process's pipes open before they are closed under them.
	drainGrace = 5 * time.Second
)

// Option configures a Runner.
type Option func(*Runner)

// WithBinary sets the Gemini CLI executable. Empty means DefaultBinary.
func WithBinary(path string) Option {
	return func(r *Runner) {
		if path == "" {
			path = DefaultBinary
		}
		r.binary = path
	}
}

// WithTimeout bounds each invocation. Zero or negative means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		r.env = r.env[:0:0]
		for k, v := range env {
			r.env = append(r.env, k+"="+v)
		}
	}
}

// WithCommandFactory overrides process construction in tests.
func WithCommandFactory(fn client.CommandFactoryFunc) Option {
	return func(r *Runner) { r.commandFactory = fn }
}

// WithTracer records one span per invocation on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRecorder exports invocation metrics.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// Runner executes tasks with the Gemini CLI. Each Run call owns its own
// process and state, so a Runner may be used concurrently.
type Runner struct {
	sink LogSink

	mu             sync.RWMutex
	binary         string
	timeout        time.Duration
	env            []string
	commandFactory client.CommandFactoryFunc
	tracer         trace.Tracer
	recorder       *metrics.Recorder
}

// NewRunner creates a Runner that forwards stream events and stderr to sink.
// sink may be nil.
func NewRunner(sink LogSink, opts ...Option) *Runner {
	r := &Runner{
		sink:   sink,
		binary: DefaultBinary,
		tracer: noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure applies opts to later invocations. Runs already in flight keep
// the settings they started with.
func (r *Runner) Configure(opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opt := range opts {
		opt(r)
	}
}

// Timeout returns the current per-invocation timeout.
func (r *Runner) Timeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}

// Binary returns the configured executable.
func (r *Runner) Binary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.binary
}

type runSettings struct {
	binary         string
	timeout        time.Duration
	env            []string
	commandFactory client.CommandFactoryFunc
	tracer         trace.Tracer
	recorder       *metrics.Recorder
}

func (r *Runner) settings() runSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return runSettings{
		binary:         r.binary,
		timeout:        r.timeout,
		env:            append([]string(nil), r.env...),
		commandFactory: r.commandFactory,
		tracer:         r.tracer,
		recorder:       r.recorder,
	}
}

// Run executes task in workDir and blocks until the process has exited and
// both of its output streams are drained. historyID resumes an earlier
// session when non-empty.
//
// The caller is responsible for checking that workDir exists.
//
// Errors:
//   - *SpawnError when the process cannot start or dies without an exit code
//   - *ExitError when it exits non-zero
//   - ErrTimeout when the configured timeout expires
//   - the context error when ctx is cancelled
func (r *Runner) Run(ctx context.Context, task, workDir, historyID string) (TaskOutcome, error) {
	s := r.settings()
	inv := &invocation{
		id:          uuid.NewString(),
		settings:    s,
		decoder:     NewDecoder(),
		accumulator: NewAccumulator(),
		forwarder:   NewForwarder(r.sink),
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanGeminiRun,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(tracing.AttrInvocationID, inv.id),
			attribute.String(tracing.AttrWorkDir, workDir),
			attribute.String(tracing.AttrHistoryID, historyID),
			attribute.String(tracing.AttrProcessBinary, s.binary),
		))
	defer span.End()
	inv.span = span

	start := time.Now()
	outcome, err := inv.run(ctx, buildArgs(task, historyID), workDir)
	elapsed := time.Since(start)

	label := outcomeLabel(err)
	inv.usage.Duration = elapsed
	inv.usage.TotalCostUSD = outcome.TotalCostUSD
	s.recorder.RecordMalformed(inv.decoder.Malformed())
	s.recorder.RecordUsage(inv.usage)
	s.recorder.InvocationFinished(label, elapsed, inv.started)

	span.SetAttributes(
		attribute.String(tracing.AttrOutcome, label),
		attribute.Int(tracing.AttrStreamEvents, inv.accumulator.Events()),
		attribute.Int(tracing.AttrStreamMalformed, inv.decoder.Malformed()),
	)
	if outcome.SessionID != "" {
		span.SetAttributes(attribute.String(tracing.AttrSessionID, outcome.SessionID))
	}
	if outcome.TotalCostUSD != nil {
		span.SetAttributes(attribute.Float64(tracing.AttrCostUSD, *outcome.TotalCostUSD))
	}
	tracing.RecordError(span, err, label)

	if err != nil {
		log.ErrorErr(log.CatOrch, "Gemini run failed", err,
			"subsystem", "gemini",
			"invocation", inv.id,
			"status", inv.lifecycle.Status(),
			"duration", elapsed)
		return TaskOutcome{}, err
	}
	log.Info(log.CatOrch, "Gemini run completed",
		"subsystem", "gemini",
		"invocation", inv.id,
		"sessionID", outcome.SessionID,
		"events", inv.accumulator.Events(),
		"malformed", inv.decoder.Malformed(),
		"duration", elapsed)
	return outcome, nil
}

// Usage extracts token metrics from a result event.
func Usage(ev StreamEvent) metrics.TokenMetrics {
	var m metrics.TokenMetrics
	if ev.Stats != nil {
		m.InputTokens = ev.Stats.InputTokens
		m.OutputTokens = ev.Stats.OutputTokens
		m.TotalTokens = ev.Stats.TotalTokens
		m.ToolCalls = ev.Stats.ToolCalls
		m.Duration = time.Duration(ev.Stats.DurationMs) * time.Millisecond
	}
	if ev.TotalCostUSD != nil {
		c := *ev.TotalCostUSD
		m.TotalCostUSD = &c
	}
	return m
}

// invocation is the state of one Run call. Nothing in it is shared with
// other invocations.
type invocation struct {
	id       string
	settings runSettings
	span     trace.Span

	lifecycle client.Lifecycle
	started   bool

	// stdout state is touched only by the stdout reader until it returns.
	stdout      bytes.Buffer
	decoder     *Decoder
	accumulator *Accumulator
	usage       metrics.TokenMetrics

	// stderr is touched only by the stderr reader until it returns.
	stderr bytes.Buffer

	forwarder *Forwarder
}

func (inv *invocation) run(ctx context.Context, args []string, workDir string) (TaskOutcome, error) {
	s := inv.settings
	h, err := client.NewSpawnBuilder(ctx).
		WithExecutable(resolveBinary(s.binary), args).
		WithWorkDir(workDir).
		WithTimeout(s.timeout).
		WithEnv(s.env).
		WithCommandFactory(s.commandFactory).
		WithProviderName("gemini").
		Start()
	if err != nil {
		inv.lifecycle.Settle(client.StatusFailed)
		return TaskOutcome{}, &SpawnError{Err: err}
	}
	defer h.Release()

	// Gemini reads a non-TTY stdin as extra prompt text; EOF right away
	// keeps it from waiting on us.
	_ = h.Stdin.Close()

	inv.lifecycle.Start()
	inv.started = true
	s.recorder.InvocationStarted()
	inv.span.AddEvent(tracing.EventProcessStarted, trace.WithAttributes(
		attribute.Int(tracing.AttrProcessID, h.PID())))
	log.Debug(log.CatOrch, "Gemini run started",
		"subsystem", "gemini",
		"invocation", inv.id,
		"pid", h.PID(),
		"timeout", s.timeout)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		inv.readStdout(h.Stdout)
	}()
	go func() {
		defer wg.Done()
		inv.readStderr(h.Stderr)
	}()
	inv.awaitReaders(h, &wg)

	// Both pipes are drained, so every chunk written before exit was seen.
	waitErr := h.Cmd.Wait()

	switch {
	case ctx.Err() != nil:
		inv.lifecycle.Settle(client.StatusCancelled)
		return TaskOutcome{}, fmt.Errorf("gemini run cancelled: %w", ctx.Err())
	case h.TimedOut():
		inv.lifecycle.Settle(client.StatusFailed)
		return TaskOutcome{}, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	case waitErr == nil:
		inv.lifecycle.Settle(client.StatusCompleted)
		return inv.accumulator.Outcome(inv.stdout.String()), nil
	}

	inv.lifecycle.Settle(client.StatusFailed)
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.Exited() {
		inv.span.SetAttributes(attribute.Int(tracing.AttrProcessExitCode, exitErr.ExitCode()))
		return TaskOutcome{}, &ExitError{Code: exitErr.ExitCode(), Stderr: inv.stderr.String()}
	}
	return TaskOutcome{}, &SpawnError{Err: waitErr}
}

// awaitReaders blocks until both readers return. Once the process context
// is done, descendants that escaped the group kill get drainGrace to
// release the pipes before they are closed.
func (inv *invocation) awaitReaders(h *client.Handle, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-h.Context().Done():
	}

	timer := time.NewTimer(drainGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn(log.CatOrch, "Closing pipes held open after kill",
			"subsystem", "gemini",
			"invocation", inv.id)
		_ = h.Stdout.Close()
		_ = h.Stderr.Close()
		<-done
	}
}

func (inv *invocation) readStdout(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			inv.stdout.Write(chunk)
			for _, ev := range inv.decoder.Feed(chunk) {
				inv.handleEvent(ev)
			}
		}
		if err != nil {
			if !isClosedPipe(err) {
				log.ErrorErr(log.CatOrch, "Stdout read error", err,
					"subsystem", "gemini",
					"invocation", inv.id)
			}
			break
		}
	}
	for _, ev := range inv.decoder.Flush() {
		inv.handleEvent(ev)
	}
}

func (inv *invocation) readStderr(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			inv.stderr.WriteString(chunk)
			inv.forwarder.Stderr(chunk)
		}
		if err != nil {
			if !isClosedPipe(err) {
				log.ErrorErr(log.CatOrch, "Stderr read error", err,
					"subsystem", "gemini",
					"invocation", inv.id)
			}
			return
		}
	}
}

// handleEvent forwards ev and then folds it into the accumulator.
func (inv *invocation) handleEvent(ev StreamEvent) {
	inv.forwarder.Event(ev)
	inv.accumulator.Apply(ev)
	inv.settings.recorder.RecordEvent(string(ev.Type))

	switch ev.Type {
	case EventInit:
		inv.span.AddEvent(tracing.EventSessionInit, trace.WithAttributes(
			attribute.String(tracing.AttrSessionID, ev.SessionID),
			attribute.String(tracing.AttrModel, ev.Model)))
	case EventResult:
		inv.usage = Usage(ev)
		inv.span.AddEvent(tracing.EventResult, trace.WithAttributes(
			attribute.Int(tracing.AttrTokensInput, inv.usage.InputTokens),
			attribute.Int(tracing.AttrTokensOutput, inv.usage.OutputTokens)))
	case EventError:
		if ev.Error != nil {
			inv.span.AddEvent(tracing.EventStreamError, trace.WithAttributes(
				attribute.String(tracing.AttrErrorMessage, ev.Error.Message)))
		}
	}
}

func isClosedPipe(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func outcomeLabel(err error) string {
	var exitErr *ExitError
	var spawnErr *SpawnError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case errors.As(err, &exitErr):
		return metrics.OutcomeExitError
	case errors.As(err, &spawnErr):
		return metrics.OutcomeSpawn
	default:
		return "error"
	}
}

// resolveBinary locates a bare executable name. It checks PATH, then the
// usual npm global install locations. Paths and unresolvable names are
// returned unchanged so the spawn reports the real failure.
func resolveBinary(name string) string {
	if name == "" {
		name = DefaultBinary
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	for _, dir := range []string{
		filepath.Join(homeDir, ".npm-global", "bin"),
		filepath.Join(homeDir, ".npm", "bin"),
		"/usr/local/bin",
		"/opt/homebrew/bin",
	} {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			log.Debug(log.CatOrch, "Found gemini outside PATH", "subsystem", "gemini", "path", candidate)
			return candidate
		}
	}
	return name
}
