//go:build linux

package procmon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ja7ad/procmon/pkg/system/proc"
	"github.com/ja7ad/procmon/pkg/types"
)

func evaluator(mut func(*Config)) *Evaluator {
	cfg := testConfig()
	if mut != nil {
		mut(&cfg)
	}
	cfg.Normalize()
	return NewEvaluator(cfg, 1)
}

func TestEvaluate_Budget(t *testing.T) {
	e := evaluator(nil) // limit 10 s at 100 ticks/s

	tests := []struct {
		name    string
		ticks   uint64
		verdict Verdict
		elapsed types.Seconds
	}{
		{"idle", 0, WithinBudget, 0},
		{"exactly_at_limit", 1000, WithinBudget, 10},
		{"just_below_next_second", 1099, WithinBudget, 10},
		{"one_second_over", 1100, OverBudget, 11},
		{"runaway", 1050 * 100, OverBudget, 1050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record(500, "burner", []string{"burner"}, tt.ticks)
			ev := e.Evaluate(&rec)
			assert.Equal(t, tt.verdict, ev.Verdict)
			assert.Equal(t, tt.elapsed, ev.Elapsed)
			assert.Equal(t, NotSkipped, ev.Reason)
			assert.Equal(t, "burner", ev.Name)
		})
	}
}

func TestEvaluate_FractionalSecondsFloor(t *testing.T) {
	e := evaluator(nil)

	// 10.5 s floors to the 10 s limit
	rec := record(500, "burner", nil, 1050)
	ev := e.Evaluate(&rec)
	assert.Equal(t, WithinBudget, ev.Verdict)
	assert.Equal(t, types.Seconds(10), ev.Elapsed)

	// 11.5 s floors to 11 s
	rec = record(500, "burner", nil, 1150)
	assert.Equal(t, OverBudget, e.Evaluate(&rec).Verdict)

	// 1000 Hz counters
	e = evaluator(func(c *Config) { c.Ticks = 1000 })
	rec = record(500, "burner", nil, 11000)
	assert.Equal(t, OverBudget, e.Evaluate(&rec).Verdict)
}

func TestEvaluate_KernelThread(t *testing.T) {
	kthread := proc.Record{PID: 2, Comm: "kthreadd", UTime: 100000}

	t.Run("command_line_mode", func(t *testing.T) {
		ev := evaluator(func(c *Config) { c.Cmdline = true }).Evaluate(&kthread)
		assert.Equal(t, Skip, ev.Verdict)
		assert.Equal(t, SkipKernelThread, ev.Reason)
	})

	t.Run("short_name_mode", func(t *testing.T) {
		ev := evaluator(nil).Evaluate(&kthread)
		assert.Equal(t, OverBudget, ev.Verdict, "kernel threads have a short name")
		assert.Equal(t, "kthreadd", ev.Name)
	})

	t.Run("empty_argv0", func(t *testing.T) {
		rec := record(77, "weird", []string{""}, 0)
		ev := evaluator(func(c *Config) { c.Cmdline = true }).Evaluate(&rec)
		assert.Equal(t, SkipKernelThread, ev.Reason)
	})
}

func TestEvaluate_Self(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		rec  proc.Record
	}{
		{"by_short_name", nil, record(900, "procmon", []string{"/usr/sbin/procmon"}, 1<<20)},
		{"by_invocation", func(c *Config) { c.Cmdline = true }, record(900, "x", []string{"/usr/sbin/procmon"}, 1<<20)},
		{"by_pid", nil, record(1, "renamed", []string{"renamed"}, 1<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := evaluator(tt.cfg).Evaluate(&tt.rec)
			assert.Equal(t, Skip, ev.Verdict)
			assert.Equal(t, SkipSelf, ev.Reason)
		})
	}

	t.Run("self_wins_over_filter", func(t *testing.T) {
		rec := record(900, "procmon", nil, 1<<20)
		ev := evaluator(func(c *Config) { c.Filter = "procmon" }).Evaluate(&rec)
		assert.Equal(t, SkipSelf, ev.Reason)
	})
}

func TestEvaluate_ExactAndFuzzy(t *testing.T) {
	sleep := record(300, "sleep", []string{"sleep", "1000"}, 5000)
	script := record(301, "sh", []string{"sleep.sh"}, 5000)
	other := record(302, "yes", []string{"yes"}, 5000)

	exact := evaluator(func(c *Config) { c.Filter = "sleep"; c.Cmdline = true })
	assert.Equal(t, OverBudget, exact.Evaluate(&sleep).Verdict)
	assert.Equal(t, SkipFilterMismatch, exact.Evaluate(&script).Reason)
	assert.Equal(t, SkipFilterMismatch, exact.Evaluate(&other).Reason)

	fuzzy := evaluator(func(c *Config) { c.Filter = "sleep"; c.Fuzzy = true })
	assert.Equal(t, OverBudget, fuzzy.Evaluate(&sleep).Verdict)
	assert.Equal(t, OverBudget, fuzzy.Evaluate(&script).Verdict, "fuzzy compares argv[0]")
	assert.Equal(t, SkipFilterMismatch, fuzzy.Evaluate(&other).Reason)
}

func TestEvaluate_PathFilterUsesCommandLine(t *testing.T) {
	e := evaluator(func(c *Config) { c.Filter = "/usr/bin/yes" })

	rec := record(400, "yes", []string{"/usr/bin/yes"}, 5000)
	assert.Equal(t, OverBudget, e.Evaluate(&rec).Verdict)

	short := record(401, "yes", []string{"yes"}, 5000)
	assert.Equal(t, SkipFilterMismatch, e.Evaluate(&short).Reason)
}

func TestEvaluate_NoFilter(t *testing.T) {
	e := evaluator(nil)
	for i, comm := range []string{"bash", "sshd", "postgres"} {
		rec := record(100+i, comm, []string{comm}, 0)
		assert.Equal(t, WithinBudget, e.Evaluate(&rec).Verdict)
	}
}

func TestSkipReason_Strings(t *testing.T) {
	assert.Equal(t, "possibly a kernel thread", SkipKernelThread.String())
	assert.Equal(t, "filter don't match", SkipFilterMismatch.String())
	assert.Equal(t, "kernel_thread", SkipKernelThread.Label())
	assert.Equal(t, "filter", SkipFilterMismatch.Label())
	assert.Equal(t, "self", SkipSelf.Label())
	assert.Equal(t, "over budget", OverBudget.String())
}
