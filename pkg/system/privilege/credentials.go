//go:build linux

package privilege

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Credentials is the identity syscall surface. A value of -1 leaves the
// corresponding id unchanged, as with setresuid(2).
type Credentials interface {
	Getresuid() (ruid, euid, suid int)
	Getresgid() (rgid, egid, sgid int)
	Setresuid(ruid, euid, suid int) error
	Setresgid(rgid, egid, sgid int) error
}

// Capabilities is the capability syscall surface, limited to the first 64
// capabilities.
type Capabilities interface {
	Get() (effective, permitted uint64, err error)
	SetEffective(effective uint64) error
	LastCap() (int, error)
	// AllThreads fails when a capset cannot be applied to every thread of
	// the process at once.
	AllThreads() error
}

// OSCredentials returns the process credentials. set*id calls reach every
// thread, through the runtime or through libc when cgo is linked.
func OSCredentials() Credentials { return osCredentials{} }

type osCredentials struct{}

func (osCredentials) Getresuid() (int, int, int) { return unix.Getresuid() }
func (osCredentials) Getresgid() (int, int, int) { return unix.Getresgid() }

func (osCredentials) Setresuid(r, e, s int) error {
	if err := unix.Setresuid(r, e, s); err != nil {
		return fmt.Errorf("setresuid(%d, %d, %d): %w", r, e, s, err)
	}
	return nil
}

func (osCredentials) Setresgid(r, e, s int) error {
	if err := unix.Setresgid(r, e, s); err != nil {
		return fmt.Errorf("setresgid(%d, %d, %d): %w", r, e, s, err)
	}
	return nil
}

// OSCapabilities returns the capability sets of the process. procRoot is
// where cap_last_cap is looked up, normally /proc.
func OSCapabilities(procRoot string) Capabilities {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return osCapabilities{procRoot: procRoot}
}

type osCapabilities struct {
	procRoot string
}

func (osCapabilities) read() (unix.CapUserHeader, [2]unix.CapUserData, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return hdr, data, fmt.Errorf("capget: %w", err)
	}
	return hdr, data, nil
}

func (c osCapabilities) Get() (uint64, uint64, error) {
	_, data, err := c.read()
	if err != nil {
		return 0, 0, err
	}
	eff := uint64(data[0].Effective) | uint64(data[1].Effective)<<32
	perm := uint64(data[0].Permitted) | uint64(data[1].Permitted)<<32
	return eff, perm, nil
}

func (c osCapabilities) SetEffective(effective uint64) error {
	hdr, data, err := c.read()
	if err != nil {
		return err
	}
	data[0].Effective = uint32(effective)
	data[1].Effective = uint32(effective >> 32)
	return capsetAllThreads(&hdr, &data)
}

// AllThreads rewrites the current sets unchanged on every thread.
func (c osCapabilities) AllThreads() error {
	hdr, data, err := c.read()
	if err != nil {
		return err
	}
	return capsetAllThreads(&hdr, &data)
}

// capsetAllThreads applies the sets to every thread. A capset on the calling
// thread alone would leave the others unable to follow the next set*id call,
// which libc treats as fatal, so there is no per-thread fallback. With cgo
// linked the runtime refuses the broadcast with ENOTSUP.
func capsetAllThreads(hdr *unix.CapUserHeader, data *[2]unix.CapUserData) error {
	_, _, errno := syscall.AllThreadsSyscall(syscall.SYS_CAPSET,
		uintptr(unsafe.Pointer(hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	switch errno {
	case 0:
		return nil
	case syscall.ENOTSUP:
		return fmt.Errorf("%w: capset cannot reach every thread", ErrElevationUnsupported)
	default:
		return fmt.Errorf("capset: %w", errno)
	}
}

func (c osCapabilities) LastCap() (int, error) {
	b, err := os.ReadFile(c.procRoot + "/sys/kernel/cap_last_cap")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
