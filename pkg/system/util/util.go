//go:build linux

package util

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/types"
)

// ParseSignal accepts a signal number ("15"), a name ("SIGTERM") or a
// short name ("term", "TERM"). Zero is valid: it is the liveness probe.
func ParseSignal(s string) (unix.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty signal")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 64 {
			return 0, fmt.Errorf("signal %d out of range", n)
		}
		return unix.Signal(n), nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}

// SignalName returns "SIGTERM" style names, "0" for the liveness probe and
// the number for anything unnamed.
func SignalName(sig unix.Signal) string {
	if sig == 0 {
		return "0"
	}
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return strconv.Itoa(int(sig))
}

// SystemSummary returns host name, kernel release, CPU count and total
// memory for the startup banner.
func SystemSummary() (host, kernel, cpus, mem string) {
	host, _ = os.Hostname()
	if host == "" {
		host = "unknown"
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		kernel = unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:])
	} else {
		kernel = "unknown"
	}

	cpus = strconv.Itoa(runtime.NumCPU())

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		mem = types.Bytes(uint64(si.Totalram) * uint64(si.Unit)).Humanized()
	} else {
		mem = "unknown"
	}
	return host, kernel, cpus, mem
}
