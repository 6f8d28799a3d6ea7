//go:build linux

package privilege

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Need lists the identity changes an elevation must allow.
type Need struct {
	SetUID bool
	SetGID bool
}

// Any reports whether anything has to be acquired.
func (n Need) Any() bool { return n.SetUID || n.SetGID }

func (n Need) mask() uint64 {
	var m uint64
	if n.SetUID {
		m |= 1 << unix.CAP_SETUID
	}
	if n.SetGID {
		m |= 1 << unix.CAP_SETGID
	}
	return m
}

// Elevator acquires the rights to change identity.
type Elevator interface {
	Name() string
	Acquire(need Need) error
}

// SelectElevator probes the platform: when capability sets can be read, the
// kernel knows CAP_SETUID/CAP_SETGID and a capset reaches every thread, only
// those capabilities are raised. Otherwise elevation falls back to regaining
// a saved root uid.
func SelectElevator(caps Capabilities, creds Credentials) Elevator {
	if caps == nil {
		return &fullElevator{creds: creds}
	}
	if _, _, err := caps.Get(); err != nil {
		return &fullElevator{creds: creds}
	}
	if last, err := caps.LastCap(); err != nil || last < unix.CAP_SETUID {
		return &fullElevator{creds: creds}
	}
	if err := caps.AllThreads(); err != nil {
		return &fullElevator{creds: creds}
	}
	return &capabilityElevator{caps: caps}
}

// capabilityElevator raises CAP_SETUID and/or CAP_SETGID in the effective
// set. They must already be permitted (file capabilities or a root start).
type capabilityElevator struct {
	caps Capabilities
}

func (e *capabilityElevator) Name() string { return "capabilities" }

func (e *capabilityElevator) Acquire(need Need) error {
	if !need.Any() {
		return nil
	}

	last, err := e.caps.LastCap()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrElevationUnsupported, err)
	}
	if need.SetUID && last < unix.CAP_SETUID {
		return fmt.Errorf("%w: set UID capability", ErrElevationUnsupported)
	}
	if need.SetGID && last < unix.CAP_SETGID {
		return fmt.Errorf("%w: set GID capability", ErrElevationUnsupported)
	}

	eff, perm, err := e.caps.Get()
	if err != nil {
		return err
	}
	mask := need.mask()
	if eff&mask == mask {
		return nil
	}
	if perm&mask != mask {
		return fmt.Errorf("privilege: capabilities %#x not permitted (permitted %#x)", mask, perm)
	}
	return e.caps.SetEffective(eff | mask)
}

// fullElevator is the fallback without capability support: a set-uid root
// binary regains effective root from its saved uid.
type fullElevator struct {
	creds Credentials
}

func (e *fullElevator) Name() string { return "setuid" }

func (e *fullElevator) Acquire(need Need) error {
	if !need.Any() {
		return nil
	}
	r, eff, s := e.creds.Getresuid()
	if eff == 0 {
		return nil
	}
	if r != 0 && s != 0 {
		// unprivileged: only switches among our own ids will succeed
		return nil
	}
	return e.creds.Setresuid(-1, 0, -1)
}
