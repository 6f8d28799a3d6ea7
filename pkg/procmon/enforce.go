//go:build linux

package procmon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/metrics"
	"github.com/ja7ad/procmon/pkg/report"
	"github.com/ja7ad/procmon/pkg/system/proc"
	"github.com/ja7ad/procmon/pkg/system/util"
)

// Signaler delivers signals and collects exit status.
type Signaler interface {
	Kill(pid int, sig unix.Signal) error
	// Reap collects pid if it has exited, without blocking. exited is
	// false while the process is still running.
	Reap(pid int) (exited bool, status unix.WaitStatus, err error)
}

// OSSignaler uses kill(2) and wait4(2).
type OSSignaler struct{}

func (OSSignaler) Kill(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) }

func (OSSignaler) Reap(pid int) (bool, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return false, 0, err
	}
	return wpid == pid, ws, nil
}

// ScriptRunner runs the notification script for a process.
type ScriptRunner interface {
	Run(ctx context.Context, script string, pid int, comm string) error
}

// ShellRunner runs the script through /bin/sh. pid and comm are passed as
// positional parameters and never spliced into the command string.
type ShellRunner struct {
	Shell   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (r ShellRunner) Run(ctx context.Context, script string, pid int, comm string) error {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", script+` "$1" "$2"`, "procmon", strconv.Itoa(pid), comm)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if r.Logger != nil && out.Len() > 0 {
		r.Logger.Debug("script output", "script", script, "pid", pid, "output", out.String())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("script %s timed out after %s", script, r.Timeout)
	}
	return err
}

// Enforcer acts on processes that are over budget.
type Enforcer struct {
	cfg     Config
	sig     Signaler
	script  ScriptRunner
	rep     report.Reporter
	metrics *metrics.Recorder
	log     *slog.Logger
}

// Enforce reports the violation and, unless this is a dry run, runs the
// notification script, sends the signal and reaps the process. Only
// OverBudget evaluations are acted on. Errors wrap ErrProcess.
func (e *Enforcer) Enforce(ctx context.Context, rec *proc.Record, ev Evaluation) error {
	if ev.Verdict != OverBudget {
		return nil
	}

	e.metrics.Violation()
	e.report(ctx, report.Event{
		Kind:    report.KindViolation,
		PID:     rec.PID,
		Comm:    rec.Comm,
		Elapsed: ev.Elapsed,
		Limit:   e.cfg.Limit,
		DryRun:  e.cfg.DryRun,
	})

	if e.cfg.DryRun {
		return nil
	}

	if e.cfg.Script != "" {
		if err := e.script.Run(ctx, e.cfg.Script, rec.PID, rec.Comm); err != nil {
			e.metrics.ScriptFailed()
			e.report(ctx, report.Event{Kind: report.KindScript, PID: rec.PID, Comm: rec.Comm, Err: err})
		} else {
			e.log.Debug("notification script finished", "script", e.cfg.Script, "pid", rec.PID)
		}
	}

	name := util.SignalName(e.cfg.Signal)
	if err := e.sig.Kill(rec.PID, e.cfg.Signal); err != nil {
		e.metrics.Signal(err)
		e.report(ctx, report.Event{Kind: report.KindSignal, PID: rec.PID, Comm: rec.Comm, Signal: name, Err: err})
		return fmt.Errorf("%w: send signal %s to pid %d: %w", ErrProcess, name, rec.PID, err)
	}
	e.metrics.Signal(nil)
	e.report(ctx, report.Event{Kind: report.KindSignal, PID: rec.PID, Comm: rec.Comm, Signal: name})

	if e.cfg.Signal == 0 {
		return nil
	}

	exited, status, err := e.sig.Reap(rec.PID)
	switch {
	case errors.Is(err, unix.ECHILD):
		// not our child; init collects it
	case err != nil:
		return fmt.Errorf("%w: wait for pid %d: %w", ErrProcess, rec.PID, err)
	case !exited:
		e.log.Debug("process still running after signal", "pid", rec.PID, "signal", name)
	case status.Exited():
		e.log.Info("process has exited", "pid", rec.PID, "code", status.ExitStatus())
		e.report(ctx, report.Event{Kind: report.KindExit, PID: rec.PID, Comm: rec.Comm})
	default:
		e.report(ctx, report.Event{Kind: report.KindExit, PID: rec.PID, Comm: rec.Comm})
	}
	return nil
}

func (e *Enforcer) report(ctx context.Context, ev report.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := e.rep.Report(ctx, ev); err != nil {
		e.log.Warn("report event", "event", string(ev.Kind), "pid", ev.PID, "err", err)
	}
}
