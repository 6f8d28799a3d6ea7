//go:build linux

// Package procmon finds processes that have used more CPU time than
// allowed and signals them.
//
// A Monitor runs scan cycles: it drops to the restricted identity, reads the
// process table, evaluates every process against the filter and the limit,
// enforces the limit on the ones over it and raises the elevated identity
// again. A Daemon repeats cycles on an interval until it is told to stop.
package procmon

import (
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/multierr"

	"github.com/ja7ad/procmon/pkg/metrics"
	"github.com/ja7ad/procmon/pkg/report"
	"github.com/ja7ad/procmon/pkg/system/cgroup"
	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/proc"
)

// Privileges moves the process credentials between phases.
// *privilege.Controller implements it.
type Privileges interface {
	Init() (privilege.State, error)
	Scan(privilege.State) (privilege.State, error)
	Rest(privilege.State) (privilege.State, error)
	Done(privilege.State) (privilege.State, error)
}

// Monitor runs scan cycles.
type Monitor struct {
	cfg Config
	log *slog.Logger

	priv    Privileges
	reader  proc.Reader
	eval    *Evaluator
	enf     *Enforcer
	cgroups *cgroup.Inspector
	rep     report.Reporter
	metrics *metrics.Recorder

	pid    int
	sig    Signaler
	script ScriptRunner
	extra  []report.Reporter
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.log = l } }

func WithPrivileges(p Privileges) Option { return func(m *Monitor) { m.priv = p } }

func WithReader(r proc.Reader) Option { return func(m *Monitor) { m.reader = r } }

func WithSignaler(s Signaler) Option { return func(m *Monitor) { m.sig = s } }

func WithScriptRunner(r ScriptRunner) Option { return func(m *Monitor) { m.script = r } }

// WithReporter adds a reporter next to the log.
func WithReporter(r report.Reporter) Option {
	return func(m *Monitor) { m.extra = append(m.extra, r) }
}

func WithMetrics(r *metrics.Recorder) Option { return func(m *Monitor) { m.metrics = r } }

func WithCgroupInspector(in *cgroup.Inspector) Option { return func(m *Monitor) { m.cgroups = in } }

// WithPID overrides the process id the monitor protects as its own.
func WithPID(pid int) Option { return func(m *Monitor) { m.pid = pid } }

// New validates cfg and wires a Monitor. Collaborators that are not given
// as options use the operating system.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{cfg: cfg}
	for _, o := range opts {
		o(m)
	}

	if m.log == nil {
		m.log = slog.Default()
	}
	if m.pid == 0 {
		m.pid = os.Getpid()
	}
	if m.priv == nil {
		m.priv = privilege.NewController(cfg.Identity, cfg.Secure, privilege.WithLogger(m.log))
	}
	if m.reader == nil {
		m.reader = proc.NewReader(proc.DefaultMount)
	}
	if m.sig == nil {
		m.sig = OSSignaler{}
	}
	if m.script == nil {
		m.script = ShellRunner{Timeout: cfg.ScriptTimeout, Logger: m.log}
	}
	if m.metrics == nil {
		m.metrics = metrics.New(cfg.MetricsFile)
	}
	if m.cgroups == nil && cfg.Verbose > 0 {
		m.cgroups = cgroup.NewInspector(nil)
	}

	reps := report.Multi{report.NewLog(m.log)}
	if cfg.SyslogAddr != "" {
		s, err := report.NewSyslog(cfg.SyslogAddr, cfg.Prog)
		if err != nil {
			return nil, err
		}
		reps = append(reps, s)
	}
	m.rep = append(reps, m.extra...)

	m.eval = NewEvaluator(cfg, m.pid)
	m.enf = &Enforcer{
		cfg:     cfg,
		sig:     m.sig,
		script:  m.script,
		rep:     m.rep,
		metrics: m.metrics,
		log:     m.log,
	}
	return m, nil
}

// Config returns the normalized configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Metrics returns the recorder in use.
func (m *Monitor) Metrics() *metrics.Recorder { return m.metrics }

// Close flushes metrics and closes the reporters.
func (m *Monitor) Close() error {
	var err error
	if ferr := m.metrics.Flush(); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	if cerr := m.rep.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close reporters: %w", cerr))
	}
	return err
}
