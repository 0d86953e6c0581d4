// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName names the per-user config directory.
const AppName = "gemini-cli-mcp"

// ConfigDir returns ~/.config/gemini-cli-mcp, honoring XDG_CONFIG_HOME.
// Returns an empty string if no home directory is available.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}

// DefaultConfigFile returns the config.yaml path inside ConfigDir.
func DefaultConfigFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultLogFile returns the debug log path inside ConfigDir.
func DefaultLogFile() string {
	dir := ConfigDir()
	if dir == "" {
		return "debug.log"
	}
	return filepath.Join(dir, "debug.log")
}

// DefaultTracesFile returns the trace export path inside ConfigDir.
func DefaultTracesFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// ExpandHome replaces a leading "~" with the user's home directory.
//
//   - "~"          -> "/home/me"
//   - "~/x/y"      -> "/home/me/x/y"
//   - "~other/x"   -> unchanged
//   - "/abs", "rel" -> unchanged
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
