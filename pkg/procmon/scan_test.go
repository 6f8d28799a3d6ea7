//go:build linux

package procmon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/proc"
)

func TestRunCycle_EndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = splitPair

	h := newHarness(t, cfg,
		proc.Record{PID: 2, Comm: "kthreadd"},
		record(100, "burner", []string{"/usr/bin/burner"}, 1150), // 11.5 s
		record(101, "idle", []string{"idle"}, 40),
		record(102, "procmon", []string{"/usr/sbin/procmon"}, 1<<30),
	)

	st, err := h.m.priv.Init()
	require.NoError(t, err)
	require.Equal(t, elevatedID, h.creds.effective())

	st, stats, err := h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, privilege.PhaseRest, st.Phase())
	assert.Equal(t, []killCall{{100, unix.SIGTERM}}, h.sig.kills, "default signal delivered once")
	assert.Equal(t, []int{100}, h.sig.reaps, "reap attempted once")

	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 1, stats.Skipped) // the monitor itself
	assert.Equal(t, 3, stats.Checked)
	assert.Equal(t, 1, stats.Violations)
	assert.Zero(t, stats.Failures)

	assert.Equal(t, 1, h.reader.closed)
	assert.Equal(t, []bool{false}, h.reader.extended)
}

func TestRunCycle_ScanRunsRestricted(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = splitPair
	h := newHarness(t, cfg)

	st, err := h.m.priv.Init()
	require.NoError(t, err)

	for range 3 {
		st, _, err = h.m.RunCycle(context.Background(), st)
		require.NoError(t, err)
		assert.Equal(t, elevatedID, h.creds.effective(), "elevated between cycles")
	}
	assert.Equal(t, []privilege.Identity{realID, realID, realID}, h.reader.seen,
		"process table read as the real identity")
}

func TestRunCycle_SecureNeverChanges(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = splitPair
	cfg.Secure = true
	h := newHarness(t, cfg)

	st, err := h.m.priv.Init()
	require.NoError(t, err)
	assert.Equal(t, [3]int{0, 0, 0}, h.creds.uid)

	_, _, err = h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []privilege.Identity{elevatedID}, h.reader.seen)
	assert.Equal(t, [3]int{0, 0, 0}, h.creds.uid)
}

func TestRunCycle_ExtendedOnlyWhenVerboseAndDebug(t *testing.T) {
	for _, tt := range []struct {
		verbose, debug int
		want           bool
	}{
		{0, 0, false}, {1, 0, false}, {0, 1, false}, {1, 1, true}, {2, 3, true},
	} {
		cfg := testConfig()
		cfg.Verbose, cfg.Debug = tt.verbose, tt.debug
		h := newHarness(t, cfg, record(100, "burner", []string{"burner"}, 10))
		st, err := h.m.priv.Init()
		require.NoError(t, err)

		_, _, err = h.m.RunCycle(context.Background(), st)
		require.NoError(t, err)
		assert.Equal(t, []bool{tt.want}, h.reader.extended, "verbose=%d debug=%d", tt.verbose, tt.debug)
	}
}

func TestRunCycle_SnapshotFailureStillRests(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = splitPair
	h := newHarness(t, cfg)
	h.reader.openErr = os.ErrPermission

	st, err := h.m.priv.Init()
	require.NoError(t, err)

	st, _, err = h.m.RunCycle(context.Background(), st)
	require.ErrorIs(t, err, ErrSnapshot)
	require.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, privilege.PhaseRest, st.Phase())
	assert.Equal(t, elevatedID, h.creds.effective())
}

func TestRunCycle_IterationFailureAborts(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, record(100, "burner", nil, 5000))
	h.reader.nextErr = proc.ErrNoStat
	h.reader.records = append(h.reader.records, record(101, "later", nil, 5000))

	st, err := h.m.priv.Init()
	require.NoError(t, err)

	st, stats, err := h.m.RunCycle(context.Background(), st)
	require.ErrorIs(t, err, ErrCycle)
	require.ErrorIs(t, err, proc.ErrNoStat)
	assert.Equal(t, privilege.PhaseRest, st.Phase())
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, h.reader.closed)
}

func TestRunCycle_ProcessFailureContinues(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg,
		record(100, "a", nil, 5000),
		record(101, "b", nil, 5000),
	)
	h.sig.killErr[100] = unix.EPERM

	st, err := h.m.priv.Init()
	require.NoError(t, err)

	_, stats, err := h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Violations)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, []killCall{{100, unix.SIGTERM}, {101, unix.SIGTERM}}, h.sig.kills)
}

func TestRunCycle_SleepFilter(t *testing.T) {
	table := []proc.Record{
		record(300, "sleep.sh", []string{"sleep.sh"}, 5000),
	}

	cfg := testConfig()
	cfg.Filter = "sleep"
	h := newHarness(t, cfg, table...)
	st, err := h.m.priv.Init()
	require.NoError(t, err)
	_, stats, err := h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, h.sig.kills)
	assert.Equal(t, 1, stats.Skipped)

	cfg.Fuzzy = true
	h = newHarness(t, cfg, table...)
	st, err = h.m.priv.Init()
	require.NoError(t, err)
	_, stats, err = h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []killCall{{300, unix.SIGTERM}}, h.sig.kills)
	assert.Equal(t, 1, stats.Violations)
}

func TestRunCycle_PrivilegeFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = splitPair

	t.Run("scan", func(t *testing.T) {
		h := newHarness(t, cfg, record(100, "a", nil, 5000))
		st, err := h.m.priv.Init()
		require.NoError(t, err)
		h.m.priv = failingPrivileges{Privileges: h.m.priv, phase: privilege.PhaseScan, err: unix.EPERM}

		_, _, err = h.m.RunCycle(context.Background(), st)
		require.ErrorIs(t, err, ErrPrivilege)
		assert.Zero(t, h.reader.opens.Load(), "no scan without dropping credentials")
	})

	t.Run("rest", func(t *testing.T) {
		h := newHarness(t, cfg)
		st, err := h.m.priv.Init()
		require.NoError(t, err)
		h.m.priv = failingPrivileges{Privileges: h.m.priv, phase: privilege.PhaseRest, err: unix.EPERM}

		st, _, err = h.m.RunCycle(context.Background(), st)
		require.ErrorIs(t, err, ErrPrivilege)
		assert.Equal(t, privilege.PhaseScan, st.Phase())
	})
}

func TestRunCycle_MetricsTextfile(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsFile = filepath.Join(t.TempDir(), "procmon.prom")
	h := newHarness(t, cfg, record(100, "a", nil, 5000), record(101, "procmon", nil, 0))

	st, err := h.m.priv.Init()
	require.NoError(t, err)
	_, _, err = h.m.RunCycle(context.Background(), st)
	require.NoError(t, err)

	b, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "procmon_cycles_total 1")
	assert.Contains(t, string(b), "procmon_violations_total 1")
	assert.Contains(t, string(b), `procmon_processes_skipped_total{reason="self"} 1`)
}
