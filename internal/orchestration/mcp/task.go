package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
)

// TaskToolName is the name the Gemini tool is registered under.
const TaskToolName = "task"

// TaskRunner runs one Gemini CLI invocation. *gemini.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task, workDir, historyID string) (gemini.TaskOutcome, error)
}

// TaskArgs are the arguments of the task tool.
type TaskArgs struct {
	Task      string `json:"task"`
	Cwd       string `json:"cwd"`
	HistoryID string `json:"historyId,omitempty"`
}

// Validate checks the arguments that can be checked without the filesystem.
func (a TaskArgs) Validate() error {
	if strings.TrimSpace(a.Task) == "" {
		return errors.New("task is required")
	}
	if a.Cwd == "" {
		return errors.New("cwd is required")
	}
	if !filepath.IsAbs(a.Cwd) {
		return fmt.Errorf("cwd must be an absolute path: %s", a.Cwd)
	}
	return nil
}

// TaskTool returns the definition of the task tool.
func TaskTool() Tool {
	return Tool{
		Name:        TaskToolName,
		Title:       "New task",
		Description: "Run Gemini CLI agent to complete a task",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"task": {
					Type:        "string",
					Description: "The task to delegate, keep it close to original user query",
				},
				"cwd": {
					Type:        "string",
					Description: "The working directory to run the Gemini CLI, must be an absolute path",
				},
				"historyId": {
					Type:        "string",
					Description: "Continue from a previous session (session_id from previous response)",
				},
			},
			Required: []string{"task", "cwd"},
		},
	}
}

// TaskOption configures the task tool handler.
type TaskOption func(*taskOptions)

type taskOptions struct {
	displayHint bool
}

// WithDisplayHint toggles the _meta.chatwise hint on successful results.
// It is on by default.
func WithDisplayHint(enabled bool) TaskOption {
	return func(o *taskOptions) {
		o.displayHint = enabled
	}
}

// NewTaskHandler returns the handler for the task tool.
//
// On success the result text is the JSON encoding of the outcome and _meta
// carries the answer as markdown for clients that render it directly.
func NewTaskHandler(runner TaskRunner, opts ...TaskOption) ToolHandler {
	o := taskOptions{displayHint: true}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
		var args TaskArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if err := args.Validate(); err != nil {
			return nil, err
		}

		info, err := os.Stat(args.Cwd)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("Directory %s does not exist", args.Cwd) //nolint:staticcheck // client-visible text
		}

		log.Info(log.CatMCP, "Task received", "cwd", args.Cwd, "historyId", args.HistoryID)

		outcome, err := runner.Run(ctx, args.Task, args.Cwd, args.HistoryID)
		if err != nil {
			return nil, fmt.Errorf("Failed to run Gemini CLI: %w", err) //nolint:staticcheck // client-visible text
		}

		text, err := json.Marshal(outcome)
		if err != nil {
			return nil, fmt.Errorf("encoding outcome: %w", err)
		}

		result := SuccessResult(string(text))
		if !o.displayHint {
			return result, nil
		}
		result.Meta = map[string]any{
			"chatwise": map[string]any{
				"stop":     true,
				"markdown": outcome.Result,
			},
		}
		return result, nil
	}
}
