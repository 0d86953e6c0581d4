//go:build windows

package client

import "os/exec"

// configureProcessGroup kills only the direct child on Windows.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
