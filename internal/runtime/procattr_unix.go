//go:build unix

package runtime

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetProcessGroup puts the command in its own process group so signals reach
// the launcher and everything it spawns.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SignalGroup delivers sig to the process group led by pid.
func SignalGroup(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	if err := unix.Kill(-pid, s); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// KillGroup sends SIGKILL to the process group led by pid.
func KillGroup(pid int) error {
	return SignalGroup(pid, unix.SIGKILL)
}

// ParseSignal resolves names such as "SIGINT" or "term".
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return unix.SIGINT, nil
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	if n == "SIGKILL" {
		return nil, errors.New("SIGKILL cannot be used as a graceful signal")
	}
	s := unix.SignalNum(n)
	if s == 0 {
		return nil, fmt.Errorf("unknown signal %q", name)
	}
	return s, nil
}

// ExitStatus reports the exit code of a finished process, mapping signal deaths
// to 128+signal as shells do.
func ExitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
