package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	sysrt "github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runtime"
)

// waitDelay bounds how long Wait keeps copying output after the launcher exits,
// in case a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

// Spec specifies how to start the process.
type Spec struct {
	Name           string // label used in logs
	Command        string
	Args           []string
	Env            []string
	WorkingDir     string
	TargetName     string // executable to monitor inside the launcher's tree; empty means the launcher itself
	CaptureOutput  bool
	GracefulSignal os.Signal
	NoFile         uint64 // RLIMIT_NOFILE
}

// ProcessRunner starts native processes from a fixed Spec.
type ProcessRunner struct {
	spec Spec
}

func New(spec Spec) *ProcessRunner { return &ProcessRunner{spec: spec} }

// Spawn implements Spawner.
func (r *ProcessRunner) Spawn() (Process, error) {
	h, err := Start(r.spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handle holds the running process information.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exitCode  int

	mu     sync.Mutex
	target *process.Process
}

// Start launches the process in its own process group and returns a handle.
// The process is not bound to any context: only Terminate or Kill stop it.
func Start(spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, ErrEmptyCommand
	}
	if spec.GracefulSignal == nil {
		spec.GracefulSignal = os.Interrupt
	}
	if err := sysrt.ApplyRlimits(spec.NoFile); err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	sysrt.SetProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr *lineWriter
	if spec.CaptureOutput {
		stdout = newLineWriter(spec.Name, "stdout")
		stderr = newLineWriter(spec.Name, "stderr")
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	h := &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	log.Info().Str("process", spec.Name).Int("pid", h.pid).Str("command", spec.Command).Msg("process spawned")

	go func() {
		err := cmd.Wait()
		if stdout != nil {
			stdout.Flush()
			stderr.Flush()
		}
		h.exitCode = exitCodeFromError(cmd, err)
		close(h.done)
	}()
	return h, nil
}

func exitCodeFromError(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return sysrt.ExitStatus(cmd.ProcessState)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) StartedAt() time.Time { return h.startedAt }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) ExitCode() int {
	if !h.exited() {
		return -1
	}
	return h.exitCode
}

func (h *Handle) Resolve(ctx context.Context) bool {
	_, ok := h.resolve(ctx)
	return ok
}

// resolve returns the target, re-validating the cached reference and searching
// the launcher's tree again when it is gone. The process table is read without
// holding h.mu.
func (h *Handle) resolve(ctx context.Context) (*process.Process, bool) {
	h.mu.Lock()
	cached := h.target
	h.mu.Unlock()
	if cached != nil {
		if live(ctx, cached) {
			return cached, true
		}
		h.mu.Lock()
		if h.target == cached {
			h.target = nil
		}
		h.mu.Unlock()
	}
	if h.exited() {
		return nil, false
	}
	root, err := process.NewProcessWithContext(ctx, int32(h.pid))
	if err != nil {
		return nil, false
	}
	p := root
	if h.spec.TargetName != "" {
		if p = findDescendant(ctx, root, h.spec.TargetName); p == nil {
			return nil, false
		}
	}
	h.mu.Lock()
	h.target = p
	h.mu.Unlock()
	return p, true
}

// live reports whether p still runs. A zombie is dead even before its new
// parent reaps it.
func live(ctx context.Context, p *process.Process) bool {
	if running, err := p.IsRunningWithContext(ctx); err != nil || !running {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	return err != nil || !slices.Contains(st, process.Zombie)
}

// findDescendant walks the tree under root breadth-first and returns the first
// process whose executable name matches.
func findDescendant(ctx context.Context, root *process.Process, name string) *process.Process {
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			if n, err := c.NameWithContext(ctx); err == nil && sameExecutable(n, name) {
				return c
			}
			queue = append(queue, c)
		}
	}
	return nil
}

func sameExecutable(a, b string) bool {
	norm := func(s string) string {
		s = filepath.Base(s)
		return strings.TrimSuffix(strings.ToLower(s), ".exe")
	}
	return norm(a) == norm(b)
}

func (h *Handle) MemorySample(ctx context.Context) (MemorySample, bool) {
	p, ok := h.resolve(ctx)
	if !ok {
		return MemorySample{}, false
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil || mi == nil {
		return MemorySample{}, false
	}
	return MemorySample{Virtual: mi.VMS, Resident: mi.RSS}, true
}

func (h *Handle) PIDs(ctx context.Context) (int, int, bool) {
	p, ok := h.resolve(ctx)
	if !ok {
		return 0, 0, false
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return int(p.Pid), 0, true
	}
	return int(p.Pid), int(ppid), true
}

// SignalGraceful sends the configured signal to the launcher's process group.
// The group outlives the launcher while the target is still in it.
func (h *Handle) SignalGraceful() error {
	return sysrt.SignalGroup(h.pid, h.spec.GracefulSignal)
}

// Kill force-kills the resolved target and the launcher's process group, even
// when the launcher itself has already exited.
func (h *Handle) Kill() error {
	h.mu.Lock()
	target := h.target
	h.mu.Unlock()
	if target != nil && int(target.Pid) != h.pid {
		if err := target.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Debug().Err(err).Int32("pid", target.Pid).Msg("target kill failed")
		}
	}
	if err := sysrt.KillGroup(h.pid); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	return nil
}
