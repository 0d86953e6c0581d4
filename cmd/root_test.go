package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/VictorNanka/gemini-cli-mcp/internal/config"
	"github.com/VictorNanka/gemini-cli-mcp/internal/flags"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/mcp"
)

func postRPC(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBuildServer_RegistersTaskTool(t *testing.T) {
	c := config.Defaults()
	srv, runner := buildServer(c, flags.New(nil), noop.NewTracerProvider().Tracer("test"), nil)
	t.Cleanup(srv.Stop)

	require.Equal(t, gemini.DefaultBinary, runner.Binary())
	require.Zero(t, runner.Timeout())

	resp := postRPC(t, srv.ServeHTTP(), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	tools := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 1)
	require.Equal(t, mcp.TaskToolName, tools[0].(map[string]any)["name"])
}

func TestBuildServer_NotifyLevel(t *testing.T) {
	c := config.Defaults()
	c.Log.NotifyLevel = "warning"

	srv, _ := buildServer(c, flags.New(nil), nil, nil)
	t.Cleanup(srv.Stop)

	require.Equal(t, gemini.SeverityWarning, srv.MinLevel())
}

func TestBuildServer_AppliesGeminiSection(t *testing.T) {
	c := config.Defaults()
	c.Gemini.Binary = "/opt/gemini"
	c.Gemini.Timeout = 3 * time.Minute

	srv, runner := buildServer(c, flags.New(map[string]bool{flags.FlagLogForwarding: false}), nil, nil)
	t.Cleanup(srv.Stop)

	require.Equal(t, "/opt/gemini", runner.Binary())
	require.Equal(t, 3*time.Minute, runner.Timeout())
}

func TestApplyConfigChange(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	runner := gemini.NewRunner(nil)
	event := fsnotify.Event{Name: "config.yaml", Op: fsnotify.Write}

	v.Set("gemini.timeout", "2m")
	v.Set("gemini.binary", "/usr/local/bin/gemini")
	require.NoError(t, applyConfigChange(v, runner, event))
	require.Equal(t, 2*time.Minute, runner.Timeout())
	require.Equal(t, "/usr/local/bin/gemini", runner.Binary())

	v.Set("gemini.timeout", "-1s")
	require.ErrorContains(t, applyConfigChange(v, runner, event), "invalid configuration")
	require.Equal(t, 2*time.Minute, runner.Timeout(), "invalid change keeps previous settings")
}

func TestWatchConfig_ReloadsRunner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini:\n  timeout: 1m\n"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	c, err := config.Load(v)
	require.NoError(t, err)
	runner := gemini.NewRunner(nil, runnerOptions(c.Gemini)...)
	require.Equal(t, time.Minute, runner.Timeout())

	stop, err := watchConfig(v, path, runner)
	require.NoError(t, err)
	t.Cleanup(stop)

	require.NoError(t, config.SaveGemini(path, config.GeminiConfig{Binary: "gemini", Timeout: 4 * time.Minute}))

	require.Eventually(t, func() bool {
		return runner.Timeout() == 4*time.Minute
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"from args"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	require.Equal(t, "from args", got)

	got, err = readPrompt(nil, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	require.Equal(t, "from stdin", got)
}

func TestUsageSink(t *testing.T) {
	var out bytes.Buffer
	sink := &usageSink{out: &out}

	sink.Log(gemini.SeverityInfo, `{"type":"message","role":"assistant","content":"hi"}`)
	sink.Log(gemini.SeverityError, "warming up\n")
	sink.Log(gemini.SeverityInfo, `{"type":"result","status":"success","stats":{"total_tokens":150,"input_tokens":100,"output_tokens":50,"duration_ms":3000,"tool_calls":1},"total_cost_usd":0.0123}`)

	usage := sink.Usage()
	require.Equal(t, 100, usage.InputTokens)
	require.Equal(t, 50, usage.OutputTokens)
	require.Equal(t, 3*time.Second, usage.Duration)
	require.Contains(t, out.String(), "[error] warming up\n")
	require.Equal(t, 3, strings.Count(out.String(), "\n"))
}

func TestUsageSink_IgnoresNonResult(t *testing.T) {
	sink := &usageSink{}
	sink.Log(gemini.SeverityInfo, "not json")
	sink.Log(gemini.SeverityError, `{"type":"result","stats":{"input_tokens":9}}`)
	require.Zero(t, sink.Usage().InputTokens)
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "yes", "1"} {
		on, err := parseSwitch(s)
		require.NoError(t, err)
		require.True(t, on, s)
	}
	for _, s := range []string{"off", "false", "no", "0"} {
		on, err := parseSwitch(s)
		require.NoError(t, err)
		require.False(t, on, s)
	}
	_, err := parseSwitch("maybe")
	require.Error(t, err)
}

func TestKnownFlags(t *testing.T) {
	require.Equal(t, []string{flags.FlagDisplayHint, flags.FlagLogForwarding}, knownFlags())
}

func runCapture(t *testing.T, run func(*cobra.Command, []string) error) string {
	t.Helper()
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	require.NoError(t, run(c, nil))
	return out.String()
}

func TestMCPConfig_HTTP(t *testing.T) {
	prevHTTP, prevAddr, prevName := mcpConfigHTTP, httpAddr, mcpConfigName
	t.Cleanup(func() { mcpConfigHTTP, httpAddr, mcpConfigName = prevHTTP, prevAddr, prevName })

	mcpConfigHTTP, httpAddr, mcpConfigName = true, ":8765", "gemini"
	out := runCapture(t, runMCPConfig)

	parsed, err := mcp.ParseMCPConfig(out)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8765/mcp", parsed.MCPServers["gemini"].URL)
}

func TestMCPConfig_Stdio(t *testing.T) {
	prevHTTP, prevFile, prevName := mcpConfigHTTP, cfgFile, mcpConfigName
	t.Cleanup(func() { mcpConfigHTTP, cfgFile, mcpConfigName = prevHTTP, prevFile, prevName })

	mcpConfigHTTP, mcpConfigName = false, mcp.DefaultServerName
	cfgFile = filepath.Join(t.TempDir(), "config.yaml")
	out := runCapture(t, runMCPConfig)

	parsed, err := mcp.ParseMCPConfig(out)
	require.NoError(t, err)
	server := parsed.MCPServers[mcp.DefaultServerName]
	exe, err := os.Executable()
	require.NoError(t, err)
	require.Equal(t, exe, server.Command)
	require.Equal(t, []string{"--config", cfgFile}, server.Args)
}

func TestMCPConfig_HTTPWithoutAddress(t *testing.T) {
	prevHTTP, prevAddr, prevCfg := mcpConfigHTTP, httpAddr, cfg
	t.Cleanup(func() { mcpConfigHTTP, httpAddr, cfg = prevHTTP, prevAddr, prevCfg })

	mcpConfigHTTP, httpAddr, cfg = true, "", config.Defaults()
	require.ErrorContains(t, runMCPConfig(&cobra.Command{}, nil), "no HTTP address")
}
