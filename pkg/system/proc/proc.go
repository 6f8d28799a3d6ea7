//go:build linux

package proc

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/ja7ad/procmon/pkg/types"
)

// ClockTicks returns the number of clock ticks per second used by the
// utime/stime counters in /proc/<pid>/stat.
// It first checks the env var CLK_TCK (useful for testing), otherwise
// falls back to 100 (common default).
//
// Note: On real systems, the authoritative way is `sysconf(_SC_CLK_TCK)`,
// but calling that requires cgo. The kernel reports /proc times in USER_HZ,
// which is 100 on every mainstream architecture regardless of CONFIG_HZ.
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	return 100
}

// PageSize returns the system memory page size in bytes.
// Like ClockTicks, it first checks an env override (PAGE_SIZE)
// to ease testing, then falls back to os.Getpagesize().
func PageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return os.Getpagesize()
}

// Record is a point-in-time view of one process. Records are produced
// fresh by every snapshot and are never reused across scans.
type Record struct {
	PID   int
	PPID  int
	Comm  string // short command name (at most 15 bytes)
	State byte

	// Cmdline is nil when the process exposes no argument vector, which is
	// the case for kernel threads (and zombies).
	Cmdline []string

	UTime types.Ticks // user mode
	STime types.Ticks // kernel mode

	// Ext is only populated when the snapshot was opened with
	// Options.Extended.
	Ext *Extended
}

// Ticks returns the accumulated user plus kernel mode ticks.
func (r *Record) Ticks() types.Ticks {
	return r.UTime + r.STime
}

// Argv0 returns the first argument vector entry and whether there is one.
func (r *Record) Argv0() (string, bool) {
	if len(r.Cmdline) == 0 {
		return "", false
	}
	return r.Cmdline[0], true
}

// Extended carries the fields that are costly to collect: ownership, memory
// and scheduling details.
type Extended struct {
	RUID, EUID, SUID, FSUID uint64
	RGID, EGID, SGID, FSGID uint64

	EUser, RUser   string
	EGroup, RGroup string

	PGRP      int
	Session   int
	TTY       int
	Threads   int
	Priority  int
	Nice      int
	Processor uint
	StartTime uint64 // ticks after boot

	RSS   types.Bytes
	VSize types.Bytes
}

// LogValue renders the record as a structured group, the way the verbose
// process display prints it.
func (r *Record) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("pid", r.PID),
		slog.Int("ppid", r.PPID),
		slog.String("comm", r.Comm),
		slog.String("state", string(r.State)),
		slog.Uint64("utime", uint64(r.UTime)),
		slog.Uint64("stime", uint64(r.STime)),
	}
	if argv0, ok := r.Argv0(); ok {
		attrs = append(attrs, slog.String("argv0", argv0))
	}
	if e := r.Ext; e != nil {
		attrs = append(attrs,
			slog.String("euser", e.EUser), slog.Uint64("euid", e.EUID),
			slog.String("ruser", e.RUser), slog.Uint64("ruid", e.RUID),
			slog.Uint64("suid", e.SUID), slog.Uint64("fsuid", e.FSUID),
			slog.String("egroup", e.EGroup), slog.Uint64("egid", e.EGID),
			slog.String("rgroup", e.RGroup), slog.Uint64("rgid", e.RGID),
			slog.Uint64("sgid", e.SGID), slog.Uint64("fsgid", e.FSGID),
			slog.Int("pgrp", e.PGRP),
			slog.Int("session", e.Session),
			slog.Int("tty", e.TTY),
			slog.Int("nlwp", e.Threads),
			slog.Int("priority", e.Priority),
			slog.Int("nice", e.Nice),
			slog.Uint64("processor", uint64(e.Processor)),
			slog.Uint64("start_time", e.StartTime),
			slog.String("rss", e.RSS.Humanized()),
			slog.String("vsize", e.VSize.Humanized()),
		)
	}
	return slog.GroupValue(attrs...)
}
