//go:build linux

package cgroup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

type Version int

const (
	Unsupported Version = iota // non-Linux or no cgroup mounts
	V1                         // legacy multi-hierarchy cgroup v1
	V2                         // unified cgroup v2
	Hybrid                     // both v1 and v2 present
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// ErrNoUnified is returned by CPUQuota when the process is not attached to a
// cgroup v2 hierarchy.
var ErrNoUnified = errors.New("cgroup: process has no unified hierarchy entry")

// Inspector reads cgroup state. It never writes: the monitor observes CPU
// quotas, it does not manage them.
type Inspector struct {
	fs         afero.Fs
	procRoot   string
	cgroupRoot string
}

// NewInspector returns an Inspector reading /proc and /sys/fs/cgroup through
// fs. A nil fs means the host filesystem.
func NewInspector(fs afero.Fs) *Inspector {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Inspector{fs: fs, procRoot: "/proc", cgroupRoot: "/sys/fs/cgroup"}
}

// Detect returns the host cgroup version using the real filesystem.
func Detect() (Version, string, error) {
	return NewInspector(nil).Detect()
}

// Detect returns the detected cgroup version and a human-readable detail string.
//
// It parses /proc/self/mountinfo looking for cgroup filesystems.
// The line format has a " - fstype " separator; we only care about fstype.
func (in *Inspector) Detect() (Version, string, error) {
	b, err := afero.ReadFile(in.fs, path.Join(in.procRoot, "self", "mountinfo"))
	if err != nil {
		return Unsupported, "", fmt.Errorf("open mountinfo: %w", err)
	}

	var (
		v1Pts []string
		v2Pts []string
		sc    = bufio.NewScanner(bytes.NewReader(b))
	)
	for sc.Scan() {
		line := sc.Text()
		// mountinfo has: <fields> - <fstype> <source> <superopts>
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		fields := strings.Fields(line[i+len(sep):])
		if len(fields) < 1 {
			continue
		}

		// Extract the mount point (field 5 in the pre-separator part)
		// Ref: man 5 proc
		pre := strings.Fields(line[:i])
		if len(pre) < 5 {
			continue
		}

		switch fields[0] {
		case "cgroup2":
			v2Pts = append(v2Pts, pre[4])
		case "cgroup":
			v1Pts = append(v1Pts, pre[4])
		}
	}
	if err := sc.Err(); err != nil {
		return Unsupported, "", fmt.Errorf("scan mountinfo: %w", err)
	}

	switch {
	case len(v1Pts) > 0 && len(v2Pts) > 0:
		return Hybrid, fmt.Sprintf("cgroup2 on %v; cgroup v1 on %v",
			strings.Join(v2Pts, ","), strings.Join(v1Pts, ",")), nil
	case len(v2Pts) > 0:
		return V2, fmt.Sprintf("cgroup2 on %v", strings.Join(v2Pts, ",")), nil
	case len(v1Pts) > 0:
		return V1, fmt.Sprintf("cgroup v1 on %v", strings.Join(v1Pts, ",")), nil
	default:
		return Unsupported, "no cgroup mounts found", nil
	}
}

// Quota is a cgroup v2 cpu.max setting.
type Quota struct {
	Group  string // cgroup path relative to the unified root
	Max    int64  // microseconds per period, -1 when unlimited
	Period uint64 // microseconds
}

// Unlimited reports whether the group has no CPU bandwidth limit.
func (q Quota) Unlimited() bool { return q.Max < 0 }

// CPUs returns the quota as a number of CPUs, 0 when unlimited.
func (q Quota) CPUs() float64 {
	if q.Unlimited() || q.Period == 0 {
		return 0
	}
	return float64(q.Max) / float64(q.Period)
}

func (q Quota) String() string {
	if q.Unlimited() {
		return "max"
	}
	return fmt.Sprintf("%.2f CPU", q.CPUs())
}

// CPUQuota reads the cpu.max of the unified cgroup pid belongs to. Groups
// without a cpu.max file (the root group, or the cpu controller disabled)
// report an unlimited quota.
func (in *Inspector) CPUQuota(pid int) (Quota, error) {
	b, err := afero.ReadFile(in.fs, path.Join(in.procRoot, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return Quota{}, fmt.Errorf("read cgroup of %d: %w", pid, err)
	}

	group, ok := unifiedGroup(string(b))
	if !ok {
		return Quota{}, ErrNoUnified
	}

	q := Quota{Group: group, Max: -1}
	raw, err := afero.ReadFile(in.fs, path.Join(in.cgroupRoot, group, "cpu.max"))
	if err != nil {
		if exists, _ := afero.Exists(in.fs, path.Join(in.cgroupRoot, group)); exists {
			return q, nil
		}
		return Quota{}, fmt.Errorf("read cpu.max of %s: %w", group, err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return Quota{}, fmt.Errorf("cgroup: malformed cpu.max %q", strings.TrimSpace(string(raw)))
	}
	if fields[0] != "max" {
		if q.Max, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
			return Quota{}, fmt.Errorf("cgroup: cpu.max quota: %w", err)
		}
	}
	if q.Period, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
		return Quota{}, fmt.Errorf("cgroup: cpu.max period: %w", err)
	}
	return q, nil
}

// unifiedGroup finds the "0::<path>" line of /proc/<pid>/cgroup.
func unifiedGroup(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		if g, ok := strings.CutPrefix(line, "0::"); ok {
			return g, true
		}
	}
	return "", false
}
