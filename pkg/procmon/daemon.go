//go:build linux

package procmon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/system/pidfile"
	"github.com/ja7ad/procmon/pkg/system/privilege"
)

// Daemon repeats scan cycles on the configured interval until SIGTERM or
// SIGINT arrives or a cycle fails.
type Daemon struct {
	m        *Monitor
	detached bool
	version  string
	console  io.Writer
	signals  <-chan os.Signal

	stop atomic.Bool
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// Detached marks a daemon that has left its controlling terminal.
func Detached(v bool) DaemonOption { return func(d *Daemon) { d.detached = v } }

// WithVersion sets the version announced at startup and shutdown.
func WithVersion(v string) DaemonOption { return func(d *Daemon) { d.version = v } }

// WithConsole sets where SIGINT is acknowledged. Defaults to stderr.
func WithConsole(w io.Writer) DaemonOption { return func(d *Daemon) { d.console = w } }

// WithSignals makes the daemon read signals from ch instead of registering
// for them with the runtime.
func WithSignals(ch <-chan os.Signal) DaemonOption { return func(d *Daemon) { d.signals = ch } }

func NewDaemon(m *Monitor, opts ...DaemonOption) *Daemon {
	d := &Daemon{m: m, console: os.Stderr}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Stop asks the loop to end after the current cycle.
func (d *Daemon) Stop() { d.stop.Store(true) }

// Stopping reports whether termination was requested.
func (d *Daemon) Stopping() bool { return d.stop.Load() }

// Run is the daemon life cycle. It returns nil after a requested stop and
// the failure otherwise.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.m.cfg
	log := d.m.log

	sigs := d.signals
	if sigs == nil {
		ch := make(chan os.Signal, 4)
		signal.Notify(ch, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)
		defer signal.Stop(ch)
		sigs = ch
	}

	pf, err := pidfile.Acquire(cfg.PIDFile, os.Getpid())
	if err != nil {
		return multierr.Append(err, d.m.Close())
	}
	if cfg.Identity.Split() {
		eff := cfg.Identity.Effective
		if err := pf.Chown(eff.UID, eff.GID); err != nil {
			return multierr.Combine(err, pf.Release(), d.m.Close())
		}
	}

	st, err := d.m.priv.Init()
	if err != nil {
		return multierr.Combine(fmt.Errorf("%w: init: %w", ErrPrivilege, err), pf.Release(), d.m.Close())
	}

	if d.detached {
		log.Info("daemon starting up", "version", d.version)
	} else {
		fmt.Fprintln(d.console, "Running in interactive mode (undetached). Press Ctrl+C to exit.")
	}

	var runErr error
	for !d.stop.Load() {
		if !d.wait(ctx, sigs, cfg.Interval) {
			break
		}

		next, stats, err := d.m.RunCycle(ctx, st)
		st = next
		if err != nil {
			log.Error("error in process scanner", "err", err)
			runErr = err
			d.stop.Store(true)
			continue
		}
		log.Debug("cycle finished", "stats", stats)
	}

	if d.detached {
		log.Info("daemon exiting", "version", d.version)
	}

	return multierr.Append(runErr, d.shutdown(st, pf))
}

// Once runs a single cycle between INIT and DONE. No PID file is written.
func (d *Daemon) Once(ctx context.Context) error {
	st, err := d.m.priv.Init()
	if err != nil {
		return multierr.Append(fmt.Errorf("%w: init: %w", ErrPrivilege, err), d.m.Close())
	}

	st, stats, err := d.m.RunCycle(ctx, st)
	if err == nil {
		d.m.log.Debug("cycle finished", "stats", stats)
	}
	return multierr.Append(err, d.shutdown(st, nil))
}

// shutdown drops the credentials, removes the PID file and closes the
// reporters.
func (d *Daemon) shutdown(st privilege.State, pf *pidfile.File) error {
	var err error

	// a failed REST leaves the state inside a scan, where DONE is not legal;
	// the effective identity is already the restricted one
	if st.Phase() != privilege.PhaseScan {
		if _, derr := d.m.priv.Done(st); derr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: done: %w", ErrPrivilege, derr))
		}
	}

	if pf != nil {
		if rerr := pf.Release(); rerr != nil {
			d.m.log.Warn("release pid file", "path", pf.Path(), "err", rerr)
		}
	}

	return multierr.Append(err, d.m.Close())
}

// wait sleeps for one interval. SIGHUP is acknowledged and the remaining
// wait resumes; SIGTERM, SIGINT and context cancellation end the loop.
func (d *Daemon) wait(ctx context.Context, sigs <-chan os.Signal, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return !d.stop.Load()
		case <-ctx.Done():
			d.stop.Store(true)
			return false
		case s := <-sigs:
			switch s {
			case unix.SIGHUP:
				d.m.log.Debug("ignoring signal", "signal", s.String())
			case unix.SIGINT:
				fmt.Fprintf(d.console, "Received signal %d (%s) (exiting).\n", int(unix.SIGINT), s)
				d.stop.Store(true)
				return false
			default:
				d.m.log.Info("received signal (exiting)", "signal", s.String())
				d.stop.Store(true)
				return false
			}
		}
	}
}
