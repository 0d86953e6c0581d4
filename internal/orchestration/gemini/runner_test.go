package gemini

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/metrics"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/tracing"
)

// writeFakeGemini writes an executable shell script standing in for the
// gemini CLI and returns its path.
func writeFakeGemini(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gemini binaries are shell scripts")
	}
	path := filepath.Join(t.TempDir(), "gemini")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return path
}

func TestRunner_Success(t *testing.T) {
	bin := writeFakeGemini(t, `cat "$FIXTURE"`)
	sink := &recordingSink{}
	r := NewRunner(sink,
		WithBinary(bin),
		WithEnv(map[string]string{"FIXTURE": fixturePath(t, "stream.jsonl")}))

	out, err := r.Run(context.Background(), "say hello", t.TempDir(), "")
	require.NoError(t, err)

	require.Equal(t, "Hello", out.Result)
	require.Equal(t, "gemini-sess-abc123", out.SessionID)
	require.NotNil(t, out.TotalCostUSD)
	require.InDelta(t, 0.0123, *out.TotalCostUSD, 1e-9)

	lines := strings.Split(strings.TrimSpace(string(readTestData(t, "stream.jsonl"))), "\n")
	require.Equal(t, lines, sink.byLevel(SeverityInfo), "every decoded line is forwarded in order")
	require.Empty(t, sink.byLevel(SeverityError))
}

func TestRunner_FallsBackToRawOutput(t *testing.T) {
	bin := writeFakeGemini(t, `printf 'plain text, no json\n'`)

	out, err := NewRunner(nil, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)

	require.Equal(t, TaskOutcome{Result: "plain text, no json\n"}, out)
}

func TestRunner_ExitCode(t *testing.T) {
	bin := writeFakeGemini(t, `printf boom >&2; exit 7`)
	sink := &recordingSink{}

	_, err := NewRunner(sink, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 7, exitErr.Code)
	require.Equal(t, "boom", exitErr.Stderr)
	require.Contains(t, err.Error(), "7")
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, "gemini CLI exited with code 7. Error: boom", err.Error())

	require.Equal(t, []string{"boom"}, sink.byLevel(SeverityError))
}

func TestRunner_ExitCodeIgnoresStdoutAnswer(t *testing.T) {
	bin := writeFakeGemini(t, `echo '{"type":"message","role":"assistant","content":"partial"}'; exit 1`)

	out, err := NewRunner(nil, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)
	require.Empty(t, exitErr.Stderr)
	require.Equal(t, TaskOutcome{}, out)
}

func TestRunner_SpawnError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-gemini")

	_, err := NewRunner(nil, WithBinary(missing)).Run(context.Background(), "task", t.TempDir(), "")
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.True(t, strings.HasPrefix(err.Error(), "failed to spawn gemini CLI: "))

	var exitErr *ExitError
	require.False(t, errors.As(err, &exitErr), "no exit-code path for a spawn failure")
}

func TestRunner_KilledBySignalIsSpawnError(t *testing.T) {
	bin := writeFakeGemini(t, `kill -9 $$`)

	_, err := NewRunner(nil, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	var exitErr *ExitError
	require.False(t, errors.As(err, &exitErr))
}

func TestRunner_Arguments(t *testing.T) {
	tests := []struct {
		name      string
		historyID string
		want      []string
	}{
		{
			name: "without history",
			want: []string{"-p", "do it", "--output-format", "stream-json", "--allowed-tools", AllowedTools},
		},
		{
			name:      "with history",
			historyID: "sess-42",
			want: []string{"-p", "do it", "--output-format", "stream-json",
				"--history-id", "sess-42", "--allowed-tools", AllowedTools},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argsFile := filepath.Join(t.TempDir(), "args.txt")
			bin := writeFakeGemini(t, `printf '%s\n' "$@" > "$ARGS_FILE"`)

			_, err := NewRunner(nil,
				WithBinary(bin),
				WithEnv(map[string]string{"ARGS_FILE": argsFile}),
			).Run(context.Background(), "do it", t.TempDir(), tt.historyID)
			require.NoError(t, err)

			data, err := os.ReadFile(argsFile)
			require.NoError(t, err)
			require.Equal(t, tt.want, strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"))
		})
	}
}

func TestRunner_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeGemini(t, `pwd -P`)

	out, err := NewRunner(nil, WithBinary(bin)).Run(context.Background(), "task", dir, "")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Equal(t, want, strings.TrimSpace(out.Result))
}

func TestRunner_StdinIsClosed(t *testing.T) {
	// cat blocks forever if stdin is inherited or left open.
	bin := writeFakeGemini(t, `cat; echo '{"type":"message","role":"assistant","content":"eof"}'`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := NewRunner(nil, WithBinary(bin)).Run(ctx, "task", t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, "eof", out.Result)
}

func TestRunner_LineSplitAcrossWrites(t *testing.T) {
	bin := writeFakeGemini(t, `printf '{"type":"message","role":"assis'
sleep 0.2
printf 'tant","content":"split"}\n{"type":"init","session_id":"s-1"}'`)

	out, err := NewRunner(nil, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)

	require.Equal(t, "split", out.Result)
	require.Equal(t, "s-1", out.SessionID, "unterminated final line is decoded at EOF")
}

func TestRunner_StderrDoesNotFailSuccessfulRun(t *testing.T) {
	bin := writeFakeGemini(t, `echo 'Loaded cached credentials.' >&2
echo '{"type":"message","role":"assistant","content":"ok"}'`)
	sink := &recordingSink{}

	out, err := NewRunner(sink, WithBinary(bin)).Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, "ok", out.Result)
	require.Equal(t, []string{"Loaded cached credentials.\n"}, sink.byLevel(SeverityError))
}

func TestRunner_Timeout(t *testing.T) {
	bin := writeFakeGemini(t, `sleep 30`)
	r := NewRunner(nil, WithBinary(bin), WithTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := r.Run(context.Background(), "task", t.TempDir(), "")

	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_Cancellation(t *testing.T) {
	// The background sleep holds stdout; it must be killed with the group.
	bin := writeFakeGemini(t, `sleep 30 & wait`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewRunner(nil, WithBinary(bin)).Run(ctx, "task", t.TempDir(), "")

	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_ConcurrentInvocationsAreIndependent(t *testing.T) {
	bin := writeFakeGemini(t, `echo "{\"type\":\"message\",\"role\":\"assistant\",\"content\":\"$2\"}"`)
	r := NewRunner(nil, WithBinary(bin))

	const n = 8
	results := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(task string) {
			out, err := r.Run(context.Background(), task, t.TempDir(), "")
			errs <- err
			results <- out.Result
		}(string(rune('a' + i)))
	}

	got := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		got[<-results] = true
	}
	require.Len(t, got, n)
}

func TestRunner_Configure(t *testing.T) {
	first := writeFakeGemini(t, `echo '{"type":"message","role":"assistant","content":"first"}'`)
	second := writeFakeGemini(t, `echo '{"type":"message","role":"assistant","content":"second"}'`)
	r := NewRunner(nil, WithBinary(first))

	out, err := r.Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, "first", out.Result)

	r.Configure(WithBinary(second), WithTimeout(time.Minute))
	require.Equal(t, second, r.Binary())
	require.Equal(t, time.Minute, r.Timeout())

	out, err = r.Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, "second", out.Result)

	r.Configure(WithBinary(""))
	require.Equal(t, DefaultBinary, r.Binary())
}

func TestRunner_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorderWithRegisterer(reg)

	ok := writeFakeGemini(t, `cat "$FIXTURE"; echo 'junk'`)
	fail := writeFakeGemini(t, `exit 3`)
	r := NewRunner(nil, WithRecorder(rec),
		WithEnv(map[string]string{"FIXTURE": fixturePath(t, "stream.jsonl")}))

	r.Configure(WithBinary(ok))
	_, err := r.Run(context.Background(), "task", t.TempDir(), "")
	require.NoError(t, err)

	r.Configure(WithBinary(fail))
	_, err = r.Run(context.Background(), "task", t.TempDir(), "")
	require.Error(t, err)

	expected := `
# HELP gemini_mcp_task_invocations_total Gemini CLI invocations by outcome
# TYPE gemini_mcp_task_invocations_total counter
gemini_mcp_task_invocations_total{outcome="exit_error"} 1
gemini_mcp_task_invocations_total{outcome="success"} 1
# HELP gemini_mcp_stream_malformed_lines_total Stream lines discarded because they failed to decode
# TYPE gemini_mcp_stream_malformed_lines_total counter
gemini_mcp_stream_malformed_lines_total 1
# HELP gemini_mcp_task_tokens_total Tokens reported by Gemini result events
# TYPE gemini_mcp_task_tokens_total counter
gemini_mcp_task_tokens_total{kind="input"} 100
gemini_mcp_task_tokens_total{kind="output"} 50
# HELP gemini_mcp_task_active Gemini CLI processes currently running
# TYPE gemini_mcp_task_active gauge
gemini_mcp_task_active 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"gemini_mcp_task_invocations_total",
		"gemini_mcp_stream_malformed_lines_total",
		"gemini_mcp_task_tokens_total",
		"gemini_mcp_task_active",
	))
	// init, message, tool_use, tool_result and result
	series, err := testutil.GatherAndCount(reg, "gemini_mcp_stream_events_total")
	require.NoError(t, err)
	require.Equal(t, 5, series)
}

func TestRunner_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := tracing.NewProviderWithExporter(tracing.Config{}, exporter)
	bin := writeFakeGemini(t, `cat "$FIXTURE"`)

	r := NewRunner(nil,
		WithBinary(bin),
		WithTracer(provider.Tracer()),
		WithEnv(map[string]string{"FIXTURE": fixturePath(t, "stream.jsonl")}))
	_, err := r.Run(context.Background(), "task", t.TempDir(), "sess-prev")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, tracing.SpanGeminiRun, span.Name)
	require.Equal(t, codes.Ok, span.Status.Code)
	require.Contains(t, span.Attributes, attribute.String(tracing.AttrHistoryID, "sess-prev"))
	require.Contains(t, span.Attributes, attribute.String(tracing.AttrSessionID, "gemini-sess-abc123"))
	require.Contains(t, span.Attributes, attribute.String(tracing.AttrOutcome, metrics.OutcomeSuccess))
	require.Contains(t, span.Attributes, attribute.Int(tracing.AttrStreamEvents, 7))

	var names []string
	for _, ev := range span.Events {
		names = append(names, ev.Name)
	}
	require.Equal(t, []string{tracing.EventProcessStarted, tracing.EventSessionInit, tracing.EventResult}, names)
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomeSuccess},
		{&ExitError{Code: 1}, metrics.OutcomeExitError},
		{&SpawnError{Err: fs.ErrNotExist}, metrics.OutcomeSpawn},
		{ErrTimeout, metrics.OutcomeTimeout},
		{context.Canceled, metrics.OutcomeCancelled},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, outcomeLabel(tt.err))
	}
}

func TestResolveBinary_PathsUnchanged(t *testing.T) {
	require.Equal(t, "/opt/custom/gemini", resolveBinary("/opt/custom/gemini"))
	require.Equal(t, "definitely-not-a-real-binary-xyz", resolveBinary("definitely-not-a-real-binary-xyz"))
}
