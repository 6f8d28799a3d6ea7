// Package report forwards enforcement events to places other than the local
// log, such as a central syslog collector.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/ja7ad/procmon/pkg/types"
)

// Kind is what happened to a process.
type Kind string

const (
	// KindViolation is a process found over its CPU time limit.
	KindViolation Kind = "violation"
	// KindScript is a notification script run.
	KindScript Kind = "script"
	// KindSignal is a signal delivery.
	KindSignal Kind = "signal"
	// KindExit is a reaped process.
	KindExit Kind = "exit"
)

// Event describes one step of enforcement against one process.
type Event struct {
	Kind    Kind
	At      time.Time
	PID     int
	Comm    string
	Elapsed types.Seconds
	Limit   types.Seconds
	Signal  string
	DryRun  bool
	Err     error
}

// Text renders the event as a single human readable line.
func (e Event) Text() string {
	switch e.Kind {
	case KindViolation:
		return fmt.Sprintf("process %d (%s) has exceeded CPU time limit %d seconds (%s)",
			e.PID, e.Comm, uint64(e.Limit), e.Elapsed)
	case KindScript:
		if e.Err != nil {
			return fmt.Sprintf("notification script for process %d (%s) failed: %v", e.PID, e.Comm, e.Err)
		}
		return fmt.Sprintf("notification script for process %d (%s) finished", e.PID, e.Comm)
	case KindSignal:
		if e.Err != nil {
			return fmt.Sprintf("failed to send signal %s to process %d (%s): %v", e.Signal, e.PID, e.Comm, e.Err)
		}
		return fmt.Sprintf("sent signal %s to process %d (%s)", e.Signal, e.PID, e.Comm)
	case KindExit:
		return fmt.Sprintf("process %d (%s) has exited", e.PID, e.Comm)
	default:
		return fmt.Sprintf("process %d (%s): %s", e.PID, e.Comm, e.Kind)
	}
}

// Reporter receives enforcement events.
type Reporter interface {
	Report(ctx context.Context, ev Event) error
	Close() error
}

// Multi fans every event out to all reporters. Errors are combined.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, ev Event) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Report(ctx, ev))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// Discard drops every event.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(context.Context, Event) error { return nil }
func (discard) Close() error                        { return nil }

// Log writes events to a slog logger: violations at warn level, failures
// at error level and everything else at info level.
type Log struct {
	l *slog.Logger
}

// NewLog returns a reporter for l, or slog.Default when l is nil.
func NewLog(l *slog.Logger) *Log {
	if l == nil {
		l = slog.Default()
	}
	return &Log{l: l}
}

func (r *Log) Report(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	switch {
	case ev.Err != nil:
		level = slog.LevelError
	case ev.Kind == KindViolation:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event", string(ev.Kind)),
		slog.Int("pid", ev.PID),
		slog.String("comm", ev.Comm),
	}
	if ev.Kind == KindViolation {
		attrs = append(attrs,
			slog.Uint64("elapsed", uint64(ev.Elapsed)),
			slog.Uint64("limit", uint64(ev.Limit)),
			slog.Bool("dry_run", ev.DryRun))
	}
	if ev.Signal != "" {
		attrs = append(attrs, slog.String("signal", ev.Signal))
	}
	if ev.Err != nil && !errors.Is(ev.Err, context.Canceled) {
		attrs = append(attrs, slog.Any("err", ev.Err))
	}

	r.l.LogAttrs(ctx, level, ev.Text(), attrs...)
	return nil
}

func (r *Log) Close() error { return nil }
