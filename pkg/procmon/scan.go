//go:build linux

package procmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/proc"
)

// Stats summarizes one cycle.
type Stats struct {
	Scanned    int
	Skipped    int
	Checked    int
	Violations int
	Failures   int
	Took       time.Duration
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("scanned", s.Scanned),
		slog.Int("skipped", s.Skipped),
		slog.Int("checked", s.Checked),
		slog.Int("violations", s.Violations),
		slog.Int("failures", s.Failures),
		slog.Duration("took", s.Took),
	)
}

// RunCycle makes one pass over the process table between a SCAN and a REST
// transition. The returned state is the one to pass to the next cycle.
//
// A failed transition wraps ErrPrivilege. A process table that cannot be
// opened wraps ErrSnapshot and an abandoned pass wraps ErrCycle; REST is
// performed in both cases. Failures against single processes are only
// counted in Stats.
func (m *Monitor) RunCycle(ctx context.Context, st privilege.State) (privilege.State, Stats, error) {
	var stats Stats
	start := time.Now()

	scan, err := m.priv.Scan(st)
	if err != nil {
		return st, stats, fmt.Errorf("%w: scan: %w", ErrPrivilege, err)
	}

	passErr := m.pass(ctx, &stats)

	rest, err := m.priv.Rest(scan)
	if err != nil {
		return scan, stats, multierr.Append(passErr, fmt.Errorf("%w: rest: %w", ErrPrivilege, err))
	}

	stats.Took = time.Since(start)
	m.metrics.Cycle(stats.Took, passErr)
	if err := m.metrics.Flush(); err != nil {
		m.log.Warn("flush metrics", "err", err)
	}

	return rest, stats, passErr
}

func (m *Monitor) pass(ctx context.Context, stats *Stats) error {
	opts := proc.Options{Extended: m.cfg.Verbose > 0 && m.cfg.Debug > 0}

	snap, err := m.reader.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil {
			m.log.Warn("close process table", "err", cerr)
		}
	}()

	for {
		rec, err := snap.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}

		stats.Scanned++
		m.metrics.Scanned()

		ev := m.eval.Evaluate(rec)
		m.trace(ctx, rec, ev)

		if ev.Verdict == Skip {
			stats.Skipped++
			m.metrics.Skipped(ev.Reason.Label())
			continue
		}

		stats.Checked++
		if ev.Verdict != OverBudget {
			continue
		}

		stats.Violations++
		if err := m.enf.Enforce(ctx, rec, ev); err != nil {
			if !errors.Is(err, ErrProcess) {
				return fmt.Errorf("%w: %w", ErrCycle, err)
			}
			stats.Failures++
			m.log.Error("enforce limit", "pid", rec.PID, "comm", rec.Comm, "err", err)
		}
	}
}

// trace is the verbose process display.
func (m *Monitor) trace(ctx context.Context, rec *proc.Record, ev Evaluation) {
	if ev.Verdict == Skip {
		if m.cfg.Debug >= 2 && ev.Reason != SkipSelf {
			m.log.Debug("skipped process",
				"comm", rec.Comm, "pid", rec.PID, "reason", ev.Reason.String())
		}
		return
	}

	if m.cfg.Verbose > 0 {
		if m.cfg.Filter != "" && m.cfg.Debug >= 2 {
			m.log.Debug("looking for command", "filter", m.cfg.Filter, "name", ev.Name)
		}
		m.log.Info("checking process", "name", ev.Name, "pid", rec.PID)

		attrs := []slog.Attr{slog.Any("process", rec)}
		if m.cgroups != nil {
			if q, err := m.cgroups.CPUQuota(rec.PID); err == nil {
				attrs = append(attrs, slog.String("cgroup", q.Group), slog.String("cpu_quota", q.String()))
			}
		}
		m.log.LogAttrs(ctx, slog.LevelDebug, "process details", attrs...)
	}

	m.log.Debug("execution time", "pid", rec.PID, "elapsed", ev.Elapsed.String())
}
