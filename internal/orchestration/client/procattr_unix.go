//go:build !windows

package client

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup runs the child as the leader of a new process group
// and makes context cancellation kill the whole group, so tools the agent
// started (shells, language servers) do not outlive it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
