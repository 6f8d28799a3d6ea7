//go:build linux

package procmon

import (
	"strings"

	"github.com/ja7ad/procmon/pkg/system/proc"
	"github.com/ja7ad/procmon/pkg/types"
)

// Verdict is the outcome of checking one process.
type Verdict int

const (
	Skip Verdict = iota
	WithinBudget
	OverBudget
)

func (v Verdict) String() string {
	switch v {
	case WithinBudget:
		return "within budget"
	case OverBudget:
		return "over budget"
	default:
		return "skip"
	}
}

// SkipReason says why a process was not considered.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipKernelThread
	SkipSelf
	SkipFilterMismatch
)

func (r SkipReason) String() string {
	switch r {
	case SkipKernelThread:
		return "possibly a kernel thread"
	case SkipSelf:
		return "monitor itself"
	case SkipFilterMismatch:
		return "filter don't match"
	default:
		return ""
	}
}

// Label is the short form used for metrics.
func (r SkipReason) Label() string {
	switch r {
	case SkipKernelThread:
		return "kernel_thread"
	case SkipSelf:
		return "self"
	case SkipFilterMismatch:
		return "filter"
	default:
		return "none"
	}
}

// Evaluation is the verdict for one process record.
type Evaluation struct {
	Verdict Verdict
	Reason  SkipReason

	// Name is what the filter was compared against.
	Name    string
	Elapsed types.Seconds
}

// Evaluator applies the filter and the CPU time limit. It has no state
// beyond its configuration.
type Evaluator struct {
	filter  string
	fuzzy   bool
	cmdline bool
	limit   types.Seconds
	ticks   int
	self    string
	prog    string
	pid     int
}

// NewEvaluator returns an evaluator for cfg. pid is the monitor's own
// process id; it is never a candidate.
func NewEvaluator(cfg Config, pid int) *Evaluator {
	return &Evaluator{
		filter:  cfg.Filter,
		fuzzy:   cfg.Fuzzy,
		cmdline: cfg.Cmdline,
		limit:   cfg.Limit,
		ticks:   cfg.Ticks,
		self:    cfg.Self,
		prog:    cfg.Prog,
		pid:     pid,
	}
}

// Evaluate classifies rec. Skips come first, in this order: no name, the
// monitor itself, filter mismatch.
func (e *Evaluator) Evaluate(rec *proc.Record) Evaluation {
	name := e.name(rec)
	if name == "" {
		return Evaluation{Verdict: Skip, Reason: SkipKernelThread}
	}

	if rec.PID == e.pid || (e.self != "" && name == e.self) || (e.prog != "" && name == e.prog) {
		return Evaluation{Verdict: Skip, Reason: SkipSelf, Name: name}
	}

	if e.filter != "" && !e.match(name) {
		return Evaluation{Verdict: Skip, Reason: SkipFilterMismatch, Name: name}
	}

	ev := Evaluation{
		Verdict: WithinBudget,
		Name:    name,
		Elapsed: rec.Ticks().Seconds(e.ticks),
	}
	if ev.Elapsed > e.limit {
		ev.Verdict = OverBudget
	}
	return ev
}

func (e *Evaluator) name(rec *proc.Record) string {
	if e.cmdline {
		argv0, _ := rec.Argv0()
		return argv0
	}
	return rec.Comm
}

func (e *Evaluator) match(name string) bool {
	if e.fuzzy {
		return strings.Contains(name, e.filter)
	}
	return name == e.filter
}
