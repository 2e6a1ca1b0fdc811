//go:build windows

package shell

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

// Terminate kills the process. It is best effort: errors are ignored.
func Terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
