//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no graceful signal for console-less children, so both steps kill.
func signalGroup(_ int, proc *os.Process, _ bool) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
