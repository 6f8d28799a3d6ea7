//go:build linux

package proc

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/user"
	"strconv"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/types"
)

// DefaultMount is where procfs is normally mounted.
const DefaultMount = procfs.DefaultMountPoint

// Options controls what a snapshot collects per process.
type Options struct {
	// Extended requests ownership names, memory and scheduling fields.
	Extended bool
}

// Reader opens process table snapshots.
type Reader interface {
	Open(opts Options) (Snapshot, error)
}

// Snapshot iterates over the processes that were alive when it was opened.
// Next returns io.EOF once every process has been yielded.
type Snapshot interface {
	Next() (*Record, error)
	Close() error
}

type fsReader struct {
	mount string
}

// NewReader returns a Reader for the procfs mounted at mount.
func NewReader(mount string) Reader {
	if mount == "" {
		mount = DefaultMount
	}
	return &fsReader{mount: mount}
}

func (r *fsReader) Open(opts Options) (Snapshot, error) {
	pfs, err := procfs.NewFS(r.mount)
	if err != nil {
		return nil, fmt.Errorf("proc: open %s: %w", r.mount, err)
	}

	procs, err := pfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("proc: list %s: %w", r.mount, err)
	}

	return &fsSnapshot{
		procs:    procs,
		opts:     opts,
		pageSize: PageSize(),
		users:    map[uint64]string{},
		groups:   map[uint64]string{},
	}, nil
}

type fsSnapshot struct {
	procs    procfs.Procs
	next     int
	closed   bool
	opts     Options
	pageSize int

	// name lookups are repeated for almost every process
	users  map[uint64]string
	groups map[uint64]string
}

func (s *fsSnapshot) Next() (*Record, error) {
	if s.closed {
		return nil, ErrClosed
	}

	for s.next < len(s.procs) {
		p := s.procs[s.next]
		s.next++

		rec, err := s.read(p)
		if err != nil {
			if vanished(err) {
				// exited between listing and reading
				continue
			}
			return nil, fmt.Errorf("proc: read pid %d: %w", p.PID, err)
		}
		return rec, nil
	}

	return nil, io.EOF
}

func (s *fsSnapshot) Close() error {
	s.closed = true
	s.procs = nil
	return nil
}

func (s *fsSnapshot) read(p procfs.Proc) (*Record, error) {
	st, err := p.Stat()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// a short stat line must not read as the end of the table
			return nil, fmt.Errorf("%w: %v", ErrNoStat, err)
		}
		return nil, err
	}
	if st.State == "" {
		return nil, ErrNoStat
	}

	argv, err := p.CmdLine()
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		argv = nil
	}

	rec := &Record{
		PID:     p.PID,
		PPID:    st.PPID,
		Comm:    st.Comm,
		State:   st.State[0],
		Cmdline: argv,
		UTime:   types.Ticks(st.UTime),
		STime:   types.Ticks(st.STime),
	}

	if !s.opts.Extended {
		return rec, nil
	}

	status, err := p.NewStatus()
	if err != nil {
		return nil, err
	}

	rec.Ext = &Extended{
		RUID: status.UIDs[0], EUID: status.UIDs[1], SUID: status.UIDs[2], FSUID: status.UIDs[3],
		RGID: status.GIDs[0], EGID: status.GIDs[1], SGID: status.GIDs[2], FSGID: status.GIDs[3],

		PGRP:      st.PGRP,
		Session:   st.Session,
		TTY:       st.TTY,
		Threads:   st.NumThreads,
		Priority:  st.Priority,
		Nice:      st.Nice,
		Processor: st.Processor,
		StartTime: st.Starttime,

		RSS:   types.Pages(uint64(max(st.RSS, 0)), s.pageSize),
		VSize: types.Bytes(st.VSize),
	}
	rec.Ext.EUser = s.userName(rec.Ext.EUID)
	rec.Ext.RUser = s.userName(rec.Ext.RUID)
	rec.Ext.EGroup = s.groupName(rec.Ext.EGID)
	rec.Ext.RGroup = s.groupName(rec.Ext.RGID)

	return rec, nil
}

func (s *fsSnapshot) userName(id uint64) string {
	if name, ok := s.users[id]; ok {
		return name
	}
	name := strconv.FormatUint(id, 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	s.users[id] = name
	return name
}

func (s *fsSnapshot) groupName(id uint64) string {
	if name, ok := s.groups[id]; ok {
		return name
	}
	name := strconv.FormatUint(id, 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	s.groups[id] = name
	return name
}

func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ESRCH)
}
