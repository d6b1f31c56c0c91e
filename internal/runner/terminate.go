package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase is a step of the termination protocol.
type Phase string

const (
	PhaseRequested       Phase = "requested"
	PhaseSignalSent      Phase = "signal_sent"
	PhaseWaitingGraceful Phase = "waiting_graceful"
	PhaseExited          Phase = "exited"
	PhaseTimedOut        Phase = "timed_out"
	PhaseForced          Phase = "forced"
	PhaseConfirmed       Phase = "confirmed"
)

// TerminateOptions bounds the protocol. The whole run takes at most
// GracefulTimeout + KillSettle.
type TerminateOptions struct {
	GracefulTimeout time.Duration
	KillSettle      time.Duration
	SignalAttempts  int
	SignalInterval  time.Duration
}

// TerminationResult describes how a process went away. A timeout is a normal
// outcome (Forced) rather than an error.
type TerminationResult struct {
	Phases   []Phase       `json:"phases"`
	Graceful bool          `json:"graceful"`
	Forced   bool          `json:"forced"`
	Exited   bool          `json:"exited"`
	ExitCode int           `json:"exit_code"`
	Elapsed  time.Duration `json:"elapsed"`
}

func (r *TerminationResult) enter(p Phase) { r.Phases = append(r.Phases, p) }

// targetPoll is how often a target that outlived its launcher is checked.
const targetPoll = 20 * time.Millisecond

// gone reports whether both the launcher and the target of p have exited.
func gone(p Process) bool {
	select {
	case <-p.Done():
	default:
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return !p.Resolve(ctx)
}

// Terminate stops p: the graceful signal is sent up to SignalAttempts times
// while waiting GracefulTimeout for exit, then the process is killed and given
// KillSettle to disappear. It never blocks longer than those two durations.
//
// The process counts as exited only once the launcher is reaped and the target
// can no longer be found. A target still alive at the deadline is killed even
// when its launcher exited in time.
func Terminate(p Process, opts TerminateOptions) (res TerminationResult) {
	start := time.Now()
	res = TerminationResult{ExitCode: -1}
	res.enter(PhaseRequested)
	defer func() {
		res.enter(PhaseConfirmed)
		res.Elapsed = time.Since(start)
		log.Info().
			Int("pid", p.PID()).
			Bool("graceful", res.Graceful).
			Bool("forced", res.Forced).
			Int("exit_code", res.ExitCode).
			Dur("elapsed", res.Elapsed).
			Msg("process terminated")
	}()
	exited := func() TerminationResult {
		res.enter(PhaseExited)
		res.Graceful, res.Exited, res.ExitCode = true, true, p.ExitCode()
		return res
	}

	if gone(p) {
		return exited()
	}

	attempts := max(opts.SignalAttempts, 1)
	deadline := time.NewTimer(opts.GracefulTimeout)
	defer deadline.Stop()

	sent := 0
	signal := func() {
		sent++
		if err := p.SignalGraceful(); err != nil {
			log.Debug().Err(err).Int("pid", p.PID()).Int("attempt", sent).Msg("graceful signal failed")
		}
	}
	signal()
	res.enter(PhaseSignalSent)
	res.enter(PhaseWaitingGraceful)

	var tick <-chan time.Time
	if attempts > 1 && opts.SignalInterval > 0 {
		t := time.NewTicker(opts.SignalInterval)
		defer t.Stop()
		tick = t.C
	}
	poll := time.NewTicker(targetPoll)
	defer poll.Stop()

	done := p.Done()
wait:
	for {
		select {
		case <-done:
			done = nil
			if gone(p) {
				return exited()
			}
			log.Warn().Int("pid", p.PID()).Msg("launcher exited, waiting for target")
		case <-poll.C:
			if done == nil && gone(p) {
				return exited()
			}
		case <-tick:
			signal()
			if sent >= attempts {
				tick = nil
			}
		case <-deadline.C:
			break wait
		}
	}

	res.enter(PhaseTimedOut)
	log.Warn().Int("pid", p.PID()).Dur("timeout", opts.GracefulTimeout).Msg("process ignored graceful shutdown, killing")
	if err := p.Kill(); err != nil {
		log.Error().Err(err).Int("pid", p.PID()).Msg("kill failed")
	}
	res.Forced = true
	res.enter(PhaseForced)

	settle := time.NewTimer(opts.KillSettle)
	defer settle.Stop()
	done = p.Done()
	for {
		select {
		case <-done:
			done = nil
		case <-poll.C:
		case <-settle.C:
			log.Error().Int("pid", p.PID()).Msg("process still present after kill")
			return res
		}
		if gone(p) {
			res.Exited, res.ExitCode = true, p.ExitCode()
			return res
		}
	}
}
