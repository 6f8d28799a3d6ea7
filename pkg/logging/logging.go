// Package logging builds the slog loggers used by the monitor: a text
// handler on the console, or the system log once the daemon has detached.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"slices"
	"strings"
)

// Level maps the debug flag count to a minimum level.
func Level(debug int) slog.Level {
	if debug > 0 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewConsole returns a text logger writing to w.
func NewConsole(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Sink is the part of *syslog.Writer the handler uses.
type Sink interface {
	Err(m string) error
	Warning(m string) error
	Info(m string) error
	Debug(m string) error
}

// NewSyslog opens the local system log with facility daemon and the given
// tag. The returned closer releases the connection.
func NewSyslog(tag string, level slog.Leveler) (*slog.Logger, io.Closer, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open syslog: %w", err)
	}
	return slog.New(NewSyslogHandler(w, level)), w, nil
}

// SyslogHandler formats records as logfmt and sends each one to the sink
// at the matching syslog severity. Time and level are left to syslog.
type SyslogHandler struct {
	sink  Sink
	level slog.Leveler
	ops   []func(slog.Handler) slog.Handler
}

func NewSyslogHandler(sink Sink, level slog.Leveler) *SyslogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SyslogHandler{sink: sink, level: level}
}

func (h *SyslogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer
	var th slog.Handler = slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: dropTimeAndLevel,
	})
	for _, op := range h.ops {
		th = op(th)
	}
	if err := th.Handle(ctx, r); err != nil {
		return err
	}

	msg := strings.TrimSuffix(buf.String(), "\n")
	switch {
	case r.Level >= slog.LevelError:
		return h.sink.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.sink.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.sink.Info(msg)
	default:
		return h.sink.Debug(msg)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(th slog.Handler) slog.Handler { return th.WithAttrs(attrs) })
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(th slog.Handler) slog.Handler { return th.WithGroup(name) })
}

func (h *SyslogHandler) with(op func(slog.Handler) slog.Handler) *SyslogHandler {
	c := *h
	c.ops = append(slices.Clip(h.ops), op)
	return &c
}

func dropTimeAndLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
		return slog.Attr{}
	}
	return a
}
