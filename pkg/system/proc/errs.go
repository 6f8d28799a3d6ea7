package proc

import "errors"

var (
	// ErrClosed is returned by Snapshot.Next after Close.
	ErrClosed = errors.New("proc: snapshot closed")

	// ErrNoStat indicates that /proc/<pid>/stat could not be parsed.
	ErrNoStat = errors.New("proc: malformed or empty stat")
)
