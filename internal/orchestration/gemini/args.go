package gemini

// AllowedTools is the fixed comma-separated set of Gemini tools a task may
// use. It is never derived from caller input.
const AllowedTools = "read_file,write_file,edit,run_shell_command,web_fetch,google_web_search,save_memory,write_todos"

// buildArgs constructs the Gemini CLI argument list for one task.
// historyID is passed as --history-id only when non-empty.
func buildArgs(task, historyID string) []string {
	args := []string{"-p", task, "--output-format", "stream-json"}
	if historyID != "" {
		args = append(args, "--history-id", historyID)
	}
	return append(args, "--allowed-tools", AllowedTools)
}
