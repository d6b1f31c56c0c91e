//go:build windows

package runtime

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// SetProcessGroup starts the command in a new console process group so that
// CTRL_BREAK can be delivered to it alone.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// SignalGroup sends CTRL_BREAK to the process group; sig is ignored.
func SignalGroup(pid int, _ os.Signal) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}

// KillGroup kills pid. A pid that can no longer be opened has already exited.
func KillGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

// ParseSignal accepts any name; only CTRL_BREAK exists for console groups.
func ParseSignal(string) (os.Signal, error) { return os.Interrupt, nil }

func ExitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	return ps.ExitCode()
}
