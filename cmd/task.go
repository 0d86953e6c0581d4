package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/mcp"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/metrics"
)

var (
	taskCwd       string
	taskHistoryID string
	taskTimeout   time.Duration
	taskVerbose   bool
)

var taskCmd = &cobra.Command{
	Use:   "task [prompt]",
	Short: "Run one Gemini task without an MCP client",
	Long: `Run a single task through the same runner the MCP tool uses and print
the outcome JSON to stdout. A usage summary is printed to stderr.

Example:
  gemini-cli-mcp task "summarize README.md"
  gemini-cli-mcp task --cwd /src/app --history-id abc123 "now add tests"
  echo "explain main.go" | gemini-cli-mcp task -v`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)

	taskCmd.Flags().StringVar(&taskCwd, "cwd", "", "working directory (default: current directory)")
	taskCmd.Flags().StringVar(&taskHistoryID, "history-id", "", "continue the session with this session_id")
	taskCmd.Flags().DurationVar(&taskTimeout, "timeout", 0, "override gemini.timeout for this run")
	taskCmd.Flags().BoolVarP(&taskVerbose, "verbose", "v", false, "print stream events and stderr as they arrive")
}

// usageSink picks the usage out of the result event and optionally echoes
// every payload.
type usageSink struct {
	mu    sync.Mutex
	out   io.Writer
	usage metrics.TokenMetrics
}

func (s *usageSink) Log(level gemini.Severity, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level == gemini.SeverityInfo {
		var ev gemini.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err == nil && ev.Type == gemini.EventResult {
			s.usage = gemini.Usage(ev)
		}
	}
	if s.out != nil {
		_, _ = fmt.Fprintf(s.out, "[%s] %s\n", level, strings.TrimRight(payload, "\n"))
	}
}

func (s *usageSink) Usage() metrics.TokenMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// readPrompt takes the prompt from args or, when absent, from in.
func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// mirrorLogs copies debug log entries to w until ctx ends.
func mirrorLogs(ctx context.Context, w io.Writer) {
	events := log.NewListener(ctx)
	if events == nil {
		return
	}
	go func() {
		for ev := range events {
			_, _ = fmt.Fprint(w, ev.Payload)
		}
	}()
}

func runTask(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	workDir := taskCwd
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}
	if workDir, err = filepath.Abs(workDir); err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	taskArgs := mcp.TaskArgs{Task: prompt, Cwd: workDir, HistoryID: taskHistoryID}
	if err := taskArgs.Validate(); err != nil {
		return err
	}
	if info, statErr := os.Stat(workDir); statErr != nil || !info.IsDir() {
		return fmt.Errorf("Directory %s does not exist", workDir) //nolint:staticcheck // matches the tool error
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Log.Debug {
		mirrorLogs(ctx, cmd.ErrOrStderr())
	}

	sink := &usageSink{}
	if taskVerbose {
		sink.out = cmd.ErrOrStderr()
	}

	opts := runnerOptions(cfg.Gemini)
	if taskTimeout > 0 {
		opts = append(opts, gemini.WithTimeout(taskTimeout))
	}
	runner := gemini.NewRunner(sink, opts...)

	outcome, err := runner.Run(ctx, prompt, workDir, taskHistoryID)
	if err != nil {
		return fmt.Errorf("Failed to run Gemini CLI: %w", err) //nolint:staticcheck // matches the tool error
	}

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), sink.Usage().String())
	return nil
}
