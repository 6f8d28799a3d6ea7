// Package privilege switches the effective user and group identity of the
// monitor between the phases of its scan cycle.
//
// Phases
//
//	INIT  once at startup: acquire the narrow rights needed, then take on
//	      the elevated identity (permanently when secure).
//	SCAN  before each pass: effective ids drop to the real (restricted) ids.
//	REST  after each pass: effective ids return to the elevated ids.
//	DONE  at shutdown: effective ids drop to the real ids for good.
//
// Every transition returns a new State, and a State only accepts the
// transitions that may follow it, so a SCAN without its REST does not type
// check at runtime. Any failed identity change is fatal for the caller:
// there is no safe partial state to continue from.
package privilege

import (
	"errors"
	"fmt"
)

var (
	// ErrBadTransition is returned for a phase change that does not follow
	// INIT -> (SCAN -> REST)* -> DONE.
	ErrBadTransition = errors.New("privilege: illegal phase transition")

	// ErrElevationUnsupported is returned when the platform cannot grant the
	// capability needed to change identity.
	ErrElevationUnsupported = errors.New("privilege: elevation unsupported")

	// ErrIdentityMismatch is returned when the kernel reports different ids
	// than a transition requested.
	ErrIdentityMismatch = errors.New("privilege: identity mismatch")
)

// Phase is a step of the credential life cycle.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseInit
	PhaseScan
	PhaseRest
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseScan:
		return "scan"
	case PhaseRest:
		return "rest"
	case PhaseDone:
		return "done"
	default:
		return "none"
	}
}

// follows lists the phases each phase may move to.
var follows = map[Phase][]Phase{
	PhaseNone: {PhaseInit},
	PhaseInit: {PhaseScan, PhaseDone},
	PhaseScan: {PhaseRest},
	PhaseRest: {PhaseScan, PhaseDone},
}

func legal(from, to Phase) bool {
	for _, p := range follows[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Identity is a user and group id.
type Identity struct {
	UID int
	GID int
}

func (id Identity) String() string {
	return fmt.Sprintf("uid=%d, gid=%d", id.UID, id.GID)
}

// Pair holds the restricted identity the process was started with (Real)
// and the elevated identity it acts under (Effective).
type Pair struct {
	Real      Identity
	Effective Identity
}

// Split reports whether real and effective ids differ at all.
func (p Pair) Split() bool {
	return p.Real != p.Effective
}

func (p Pair) need() Need {
	return Need{
		SetUID: p.Real.UID != p.Effective.UID,
		SetGID: p.Real.GID != p.Effective.GID,
	}
}

// State is the credential state after a transition. The zero value is the
// state before INIT.
type State struct {
	phase     Phase
	effective Identity
	real      Identity
	permanent bool
}

// Phase returns the phase the state was produced by.
func (s State) Phase() Phase { return s.phase }

// Effective returns the identity the kernel authorizes operations with.
func (s State) Effective() Identity { return s.effective }

// Real returns the real identity.
func (s State) Real() Identity { return s.real }

// Permanent reports whether INIT dropped the real ids for good, which turns
// every later transition into a no-op.
func (s State) Permanent() bool { return s.permanent }

// Restricted reports whether the effective identity is the real one.
func (s State) Restricted() bool { return s.effective == s.real }
