//go:build linux

package procmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/metrics"
	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/proc"
	"github.com/ja7ad/procmon/pkg/types"
)

var (
	realID     = privilege.Identity{UID: 1000, GID: 1000}
	elevatedID = privilege.Identity{UID: 0, GID: 0}
	splitPair  = privilege.Pair{Real: realID, Effective: elevatedID}
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memCreds is a credential store without permission checks.
type memCreds struct {
	mu       sync.Mutex
	uid, gid [3]int
}

func newMemCreds(id privilege.Identity) *memCreds {
	return &memCreds{uid: [3]int{id.UID, id.UID, id.UID}, gid: [3]int{id.GID, id.GID, id.GID}}
}

func (c *memCreds) Getresuid() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid[0], c.uid[1], c.uid[2]
}

func (c *memCreds) Getresgid() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gid[0], c.gid[1], c.gid[2]
}

func (c *memCreds) Setresuid(r, e, s int) error { return c.set(&c.uid, r, e, s) }
func (c *memCreds) Setresgid(r, e, s int) error { return c.set(&c.gid, r, e, s) }

func (c *memCreds) set(ids *[3]int, r, e, s int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range [3]int{r, e, s} {
		if v != -1 {
			ids[i] = v
		}
	}
	return nil
}

func (c *memCreds) effective() privilege.Identity {
	_, euid, _ := c.Getresuid()
	_, egid, _ := c.Getresgid()
	return privilege.Identity{UID: euid, GID: egid}
}

type noElevation struct{}

func (noElevation) Name() string                 { return "none" }
func (noElevation) Acquire(privilege.Need) error { return nil }

func newController(creds *memCreds, pair privilege.Pair, secure bool) *privilege.Controller {
	return privilege.NewController(pair, secure,
		privilege.WithCredentials(creds),
		privilege.WithElevator(noElevation{}),
		privilege.WithLogger(quiet()))
}

// failingPrivileges fails the named phase.
type failingPrivileges struct {
	Privileges
	phase privilege.Phase
	err   error
}

func (f failingPrivileges) Scan(s privilege.State) (privilege.State, error) {
	if f.phase == privilege.PhaseScan {
		return s, f.err
	}
	return f.Privileges.Scan(s)
}

func (f failingPrivileges) Rest(s privilege.State) (privilege.State, error) {
	if f.phase == privilege.PhaseRest {
		return s, f.err
	}
	return f.Privileges.Rest(s)
}

// fakeReader serves a fixed process table and remembers the effective
// identity in force when each snapshot was opened.
type fakeReader struct {
	records []proc.Record
	openErr error
	nextErr error // returned after the records instead of io.EOF
	creds   *memCreds
	onOpen  func()

	opens    atomic.Int32
	extended []bool
	seen     []privilege.Identity
	closed   int
}

func (r *fakeReader) Open(opts proc.Options) (proc.Snapshot, error) {
	r.opens.Add(1)
	r.extended = append(r.extended, opts.Extended)
	if r.creds != nil {
		r.seen = append(r.seen, r.creds.effective())
	}
	if r.onOpen != nil {
		r.onOpen()
	}
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &fakeSnapshot{r: r}, nil
}

type fakeSnapshot struct {
	r    *fakeReader
	next int
}

func (s *fakeSnapshot) Next() (*proc.Record, error) {
	if s.next < len(s.r.records) {
		rec := s.r.records[s.next]
		s.next++
		return &rec, nil
	}
	if s.r.nextErr != nil {
		return nil, s.r.nextErr
	}
	return nil, io.EOF
}

func (s *fakeSnapshot) Close() error {
	s.r.closed++
	return nil
}

type reapResult struct {
	exited bool
	status unix.WaitStatus
	err    error
}

// fakeSignaler records kills and reaps into a shared call log.
type fakeSignaler struct {
	calls   *[]string
	killErr map[int]error
	reap    reapResult

	kills []killCall
	reaps []int
}

type killCall struct {
	pid int
	sig unix.Signal
}

func (f *fakeSignaler) Kill(pid int, sig unix.Signal) error {
	if f.calls != nil {
		*f.calls = append(*f.calls, "kill")
	}
	f.kills = append(f.kills, killCall{pid, sig})
	return f.killErr[pid]
}

func (f *fakeSignaler) Reap(pid int) (bool, unix.WaitStatus, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, "reap")
	}
	f.reaps = append(f.reaps, pid)
	return f.reap.exited, f.reap.status, f.reap.err
}

type fakeScript struct {
	calls *[]string
	err   error
	runs  []int
}

func (f *fakeScript) Run(_ context.Context, _ string, pid int, _ string) error {
	if f.calls != nil {
		*f.calls = append(*f.calls, "script")
	}
	f.runs = append(f.runs, pid)
	return f.err
}

// record builds a process with the given ticks split between user and
// kernel mode.
func record(pid int, comm string, argv []string, ticks uint64) proc.Record {
	return proc.Record{
		PID:     pid,
		PPID:    1,
		Comm:    comm,
		State:   'R',
		Cmdline: argv,
		UTime:   types.Ticks(ticks - ticks/3),
		STime:   types.Ticks(ticks / 3),
	}
}

func testConfig() Config {
	return Config{
		Limit:         10,
		Signal:        unix.SIGTERM,
		Interval:      DefaultInterval,
		ScriptTimeout: DefaultScriptTimeout,
		Identity:      privilege.Pair{Real: realID, Effective: realID},
		Ticks:         100,
		Self:          "/usr/sbin/procmon",
		Prog:          "procmon",
		PIDFile:       DefaultPIDFile,
	}
}

type harness struct {
	m      *Monitor
	creds  *memCreds
	reader *fakeReader
	sig    *fakeSignaler
	script *fakeScript
	calls  []string
}

func newHarness(t *testing.T, cfg Config, records ...proc.Record) *harness {
	t.Helper()

	h := &harness{creds: newMemCreds(cfg.Identity.Real)}
	h.reader = &fakeReader{records: records, creds: h.creds}
	h.sig = &fakeSignaler{calls: &h.calls, killErr: map[int]error{}, reap: reapResult{err: unix.ECHILD}}
	h.script = &fakeScript{calls: &h.calls}

	m, err := New(cfg,
		WithLogger(quiet()),
		WithPID(1),
		WithPrivileges(newController(h.creds, cfg.Identity, cfg.Secure)),
		WithReader(h.reader),
		WithSignaler(h.sig),
		WithScriptRunner(h.script),
		WithMetrics(metrics.New(cfg.MetricsFile)),
	)
	require.NoError(t, err)
	h.m = m
	return h
}

var errBoom = errors.New("boom")
