package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/VictorNanka/gemini-cli-mcp/internal/config"
	"github.com/VictorNanka/gemini-cli-mcp/internal/flags"
	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/mcp"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/metrics"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/tracing"
	"github.com/VictorNanka/gemini-cli-mcp/internal/watcher"
)

const (
	serverName      = "gemini-cli-mcp"
	shutdownTimeout = 10 * time.Second
)

const serverInstructions = `Use the "task" tool to delegate work to the Gemini CLI agent.
Pass the user's request as "task" and an absolute project directory as "cwd".
To continue a previous conversation pass its session_id as "historyId".
Show the returned result to the user as-is.`

var (
	httpAddr    string
	metricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout",
	Long: `Run the MCP server on stdin/stdout. This is also what runs when no
subcommand is given.

Example:
  gemini-cli-mcp serve
  gemini-cli-mcp serve --http 127.0.0.1:8765   # also answer POST /mcp
  gemini-cli-mcp serve --metrics-addr :9464    # expose GET /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&httpAddr, "http", "", "also serve MCP over HTTP on this address (overrides config)")
		c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	}
}

// runnerOptions maps the gemini config section to Runner options.
func runnerOptions(g config.GeminiConfig) []gemini.Option {
	return []gemini.Option{
		gemini.WithBinary(g.Binary),
		gemini.WithTimeout(g.Timeout),
		gemini.WithEnv(g.Env),
	}
}

// buildServer wires the task tool into a new MCP server.
func buildServer(c config.Config, reg *flags.Registry, tracer trace.Tracer, rec *metrics.Recorder) (*mcp.Server, *gemini.Runner) {
	srv := mcp.NewServer(serverName, version, mcp.WithInstructions(serverInstructions))
	if level, ok := gemini.ParseSeverity(c.Log.NotifyLevel); ok {
		srv.SetMinLevel(level)
	}

	var sink gemini.LogSink
	if reg.Enabled(flags.FlagLogForwarding) {
		sink = srv
	}

	opts := append(runnerOptions(c.Gemini), gemini.WithTracer(tracer), gemini.WithRecorder(rec))
	runner := gemini.NewRunner(sink, opts...)

	srv.RegisterTool(mcp.TaskTool(), mcp.NewTaskHandler(runner,
		mcp.WithDisplayHint(reg.Enabled(flags.FlagDisplayHint))))

	return srv, runner
}

// applyConfigChange re-reads v and hands the gemini section to runner.
// Runs already in flight keep their settings.
func applyConfigChange(v *viper.Viper, runner *gemini.Runner, e fsnotify.Event) error {
	log.Info(log.CatConfig, "Config file changed", "path", e.Name, "op", e.Op.String())

	next, err := config.Decode(v)
	if err != nil {
		log.ErrorErr(log.CatConfig, "Ignoring invalid config change", err, "path", e.Name)
		return err
	}

	runner.Configure(runnerOptions(next.Gemini)...)
	log.Info(log.CatConfig, "Gemini settings reloaded",
		"binary", runner.Binary(),
		"timeout", runner.Timeout().String())
	return nil
}

// watchConfig re-reads path into v after each burst of edits and applies
// the result to runner.
func watchConfig(v *viper.Viper, path string, runner *gemini.Runner) (func(), error) {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return nil, err
	}

	go func() {
		for e := range changes {
			if err := v.ReadInConfig(); err != nil {
				log.ErrorErr(log.CatConfig, "Re-reading config failed", err, "path", e.Name)
				continue
			}
			_ = applyConfigChange(v, runner, e)
		}
	}()

	return func() { _ = w.Stop() }, nil
}

// logToolEvents writes one log line per finished tool call until ctx ends.
func logToolEvents(ctx context.Context, srv *mcp.Server) {
	for ev := range srv.Events().Subscribe(ctx) {
		e := ev.Payload
		if e.IsError {
			log.Warn(log.CatMCP, "Tool call failed",
				"tool", e.ToolName,
				"id", e.RequestID,
				"duration", e.Duration.String(),
				"error", e.Error)
			continue
		}
		log.Info(log.CatMCP, "Tool call finished",
			"tool", e.ToolName,
			"id", e.RequestID,
			"duration", e.Duration.String())
	}
}

// startHTTP serves handler on addr in the background. The returned server
// is already listening.
func startHTTP(name, addr string, handler http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for %s on %s: %w", name, addr, err)
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatMCP, "HTTP server stopped", err, "server", name)
		}
	}()
	log.Info(log.CatMCP, "HTTP server listening", "server", name, "addr", ln.Addr().String())
	return server, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "Tracing shutdown failed", err)
		}
	}()

	reg := flags.New(cfg.Flags)
	srv, runner := buildServer(cfg, reg, provider.Tracer(), metrics.NewRecorder())
	go logToolEvents(ctx, srv)

	if path := viper.ConfigFileUsed(); path != "" {
		stopWatch, err := watchConfig(viper.GetViper(), path, runner)
		if err != nil {
			log.ErrorErr(log.CatConfig, "Config hot reload disabled", err, "path", path)
		} else {
			defer stopWatch()
		}
	}

	var servers []*http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s, err := startHTTP("metrics", cfg.Metrics.Addr, mux)
		if err != nil {
			return err
		}
		servers = append(servers, s)
	}
	if cfg.HTTP.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/mcp", srv.ServeHTTP())
		s, err := startHTTP("mcp", cfg.HTTP.Addr, mux)
		if err != nil {
			return err
		}
		servers = append(servers, s)
	}

	log.Info(log.CatMCP, "MCP server ready on stdio",
		"binary", runner.Binary(),
		"timeout", runner.Timeout().String(),
		"tracing", provider.Enabled(),
		"flags", reg.All())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(cmd.InOrStdin(), cmd.OutOrStdout())
	}()

	select {
	case <-ctx.Done():
		log.Info(log.CatMCP, "Received shutdown signal")
		srv.Stop()
	case err = <-errCh:
		srv.Stop()
		if err != nil {
			log.ErrorErr(log.CatMCP, "MCP server stopped", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if shutdownErr := s.Shutdown(shutdownCtx); shutdownErr != nil {
			log.ErrorErr(log.CatMCP, "HTTP shutdown failed", shutdownErr)
		}
	}

	log.Info(log.CatMCP, "MCP server stopped")
	return err
}
