// Package metrics counts what the monitor does and exports it in the
// Prometheus text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "procmon"

// Recorder holds the monitor counters. A nil *Recorder records nothing.
type Recorder struct {
	reg  *prometheus.Registry
	path string

	cycles         prometheus.Counter
	cycleFailures  prometheus.Counter
	scanned        prometheus.Counter
	skipped        *prometheus.CounterVec
	violations     prometheus.Counter
	signals        prometheus.Counter
	signalFailures prometheus.Counter
	scriptFailures prometheus.Counter
	cycleSeconds   prometheus.Gauge
	lastCycle      prometheus.Gauge
}

// New returns a Recorder on its own registry. When path is set, Flush
// writes the registry there.
func New(path string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg:  reg,
		path: path,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scan cycles run.",
		}),
		cycleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Scan cycles that ended with an error.",
		}),
		scanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_scanned_total",
			Help:      "Process records read from the process table.",
		}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_skipped_total",
			Help:      "Process records skipped by reason.",
		}, []string{"reason"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Processes found over the CPU time limit.",
		}),
		signals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_sent_total",
			Help:      "Signals delivered to processes over the limit.",
		}),
		signalFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_failures_total",
			Help:      "Signals that could not be delivered.",
		}),
		scriptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_failures_total",
			Help:      "Notification script runs that failed.",
		}),
		cycleSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_duration_seconds",
			Help:      "Duration of the most recent scan cycle.",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the most recent scan cycle finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Cycle records a finished cycle.
func (r *Recorder) Cycle(took time.Duration, err error) {
	if r == nil {
		return
	}
	r.cycles.Inc()
	if err != nil {
		r.cycleFailures.Inc()
	}
	r.cycleSeconds.Set(took.Seconds())
	r.lastCycle.SetToCurrentTime()
}

func (r *Recorder) Scanned() {
	if r == nil {
		return
	}
	r.scanned.Inc()
}

func (r *Recorder) Skipped(reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) Violation() {
	if r == nil {
		return
	}
	r.violations.Inc()
}

// Signal records one delivery attempt.
func (r *Recorder) Signal(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.signalFailures.Inc()
		return
	}
	r.signals.Inc()
}

func (r *Recorder) ScriptFailed() {
	if r == nil {
		return
	}
	r.scriptFailures.Inc()
}

// Flush writes the registry to the textfile, if one was configured. The
// write goes through a temporary file so collectors never read half a file.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.reg); err != nil {
		return fmt.Errorf("metrics: write %s: %w", r.path, err)
	}
	return nil
}
