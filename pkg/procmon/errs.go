package procmon

import "errors"

var (
	// ErrConfig is returned for a configuration that cannot run.
	ErrConfig = errors.New("procmon: invalid configuration")

	// ErrPrivilege is a failed credential transition. Always fatal.
	ErrPrivilege = errors.New("procmon: privilege transition failed")

	// ErrSnapshot means the process table could not be opened. Fatal.
	ErrSnapshot = errors.New("procmon: process table unavailable")

	// ErrCycle is a pass over the process table that had to be abandoned.
	ErrCycle = errors.New("procmon: scan cycle aborted")

	// ErrProcess is a failed action against a single process. The cycle
	// carries on with the next process.
	ErrProcess = errors.New("procmon: process action failed")
)
