package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDir_HonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	require.Equal(t, filepath.Join("/xdg", AppName), ConfigDir())
	require.Equal(t, filepath.Join("/xdg", AppName, "config.yaml"), DefaultConfigFile())
	require.Equal(t, filepath.Join("/xdg", AppName, "debug.log"), DefaultLogFile())
	require.Equal(t, filepath.Join("/xdg", AppName, "traces", "traces.jsonl"), DefaultTracesFile())
}

func TestConfigDir_FallsBackToHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, ".config", AppName), ConfigDir())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/logs/a.log", filepath.Join(home, "logs", "a.log")},
		{"~other/x", "~other/x"},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ExpandHome(tt.in))
		})
	}
}
