// Package proc provides process table snapshots on Linux for the runaway
// process monitor.
//
// Overview
//
//   - Reader/Snapshot:
//     Open(opts Options) (Snapshot, error)
//     Next() (*Record, error)
//     Close() error
//
//     A Snapshot lists the processes alive at Open and reads each one lazily
//     on Next, so a scan touches every /proc/<pid> directory exactly once.
//     Next returns io.EOF after the last process. Processes that exit between
//     listing and reading are skipped; any other read failure is returned and
//     callers treat it as a broken scan.
//
//   - Record fields:
//     PID, PPID, Comm, State : from /proc/<pid>/stat
//     Cmdline                : /proc/<pid>/cmdline, nil when empty (kernel threads)
//     UTime, STime           : accumulated user/kernel clock ticks
//     Ext                    : ownership (ids and names), memory, scheduling;
//     only collected with Options.Extended because of
//     the extra status read and name lookups.
//
// CPU time
//
//	seconds = floor((utime + stime) / ClockTicks())
//
// The kernel exports both counters in USER_HZ ticks. ClockTicks is read once
// at startup by the caller; CLK_TCK in the environment overrides the default
// of 100 for hosts (or tests) that need it.
//
// Package import path: github.com/ja7ad/procmon/pkg/system/proc
package proc
