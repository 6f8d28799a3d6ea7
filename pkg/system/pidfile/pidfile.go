// Package pidfile keeps the record of the running daemon's process id.
//
// The file is protected by an advisory lock for as long as the daemon runs,
// so a file left behind by a crashed instance is taken over instead of
// blocking the next start.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
)

// ErrLocked is returned when another live process holds the file.
var ErrLocked = errors.New("pidfile: held by another process")

const perm = 0o644

// File is an acquired PID file.
type File struct {
	path string
	lock *flock.Flock
}

// Acquire locks path and writes pid into it.
func Acquire(path string, pid int) (*File, error) {
	lk := flock.New(path, flock.SetPermissions(perm))

	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
	}
	if !ok {
		if other, rerr := Read(path); rerr == nil {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, path, other)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), perm); err != nil {
		return nil, multierr.Append(fmt.Errorf("pidfile: write %s: %w", path, err), lk.Unlock())
	}

	return &File{path: path, lock: lk}, nil
}

// Path returns the file name.
func (f *File) Path() string { return f.path }

// Chown hands the file to uid/gid so it can be removed after the daemon
// has changed identity.
func (f *File) Chown(uid, gid int) error {
	if err := os.Chown(f.path, uid, gid); err != nil {
		return fmt.Errorf("pidfile: chown %s to %d:%d: %w", f.path, uid, gid, err)
	}
	return nil
}

// Release removes the file and drops the lock.
func (f *File) Release() error {
	if f == nil || f.lock == nil {
		return nil
	}

	var err error
	if rerr := os.Remove(f.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = fmt.Errorf("pidfile: remove %s: %w", f.path, rerr)
	}
	err = multierr.Append(err, f.lock.Unlock())
	f.lock = nil
	return err
}

// Read returns the pid recorded in path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: %s: %w", path, err)
	}
	return pid, nil
}
