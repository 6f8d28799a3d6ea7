//go:build linux

package privilege

import (
	"fmt"
	"log/slog"
)

// Controller performs the phase transitions for one identity pair.
type Controller struct {
	pair   Pair
	secure bool
	creds  Credentials
	elev   Elevator
	log    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithCredentials replaces the OS credentials, mainly for tests.
func WithCredentials(c Credentials) Option { return func(ctl *Controller) { ctl.creds = c } }

// WithElevator replaces the probed elevator.
func WithElevator(e Elevator) Option { return func(ctl *Controller) { ctl.elev = e } }

// WithLogger sets the logger credential changes are reported to.
func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }

// NewController returns a controller for pair. With secure set, INIT changes
// all ids permanently.
func NewController(pair Pair, secure bool, opts ...Option) *Controller {
	c := &Controller{pair: pair, secure: secure}
	for _, o := range opts {
		o(c)
	}
	if c.creds == nil {
		c.creds = OSCredentials()
	}
	if c.elev == nil {
		c.elev = SelectElevator(OSCapabilities(""), c.creds)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Elevator returns the elevation strategy in use.
func (c *Controller) Elevator() Elevator { return c.elev }

// Transition moves s to phase.
func (c *Controller) Transition(s State, phase Phase) (State, error) {
	switch phase {
	case PhaseInit:
		if s.phase != PhaseNone {
			return s, fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.phase, phase)
		}
		return c.Init()
	case PhaseScan:
		return c.Scan(s)
	case PhaseRest:
		return c.Rest(s)
	case PhaseDone:
		return c.Done(s)
	default:
		return s, fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.phase, phase)
	}
}

// Init acquires the rights needed and takes on the elevated identity.
func (c *Controller) Init() (State, error) {
	var none State

	if need := c.pair.need(); need.Any() {
		if err := c.elev.Acquire(need); err != nil {
			return none, fmt.Errorf("privilege: %s elevation: %w", c.elev.Name(), err)
		}
	}

	eff := c.pair.Effective
	next := State{phase: PhaseInit, effective: eff, real: c.pair.Real, permanent: c.secure}

	// group first: changing the uid may give up the right to change gids
	if c.secure {
		if err := c.creds.Setresgid(eff.GID, eff.GID, eff.GID); err != nil {
			return none, err
		}
		if err := c.creds.Setresuid(eff.UID, eff.UID, eff.UID); err != nil {
			return none, err
		}
		next.real = eff
	} else {
		if err := c.creds.Setresgid(-1, eff.GID, -1); err != nil {
			return none, err
		}
		if err := c.creds.Setresuid(-1, eff.UID, -1); err != nil {
			return none, err
		}
	}

	return c.verify(next)
}

// Scan drops the effective identity to the real one for a pass over the
// process table.
func (c *Controller) Scan(s State) (State, error) {
	if err := c.check(s, PhaseScan); err != nil {
		return s, err
	}
	if s.permanent {
		s.phase = PhaseScan
		return s, nil
	}
	return c.drop(s, PhaseScan)
}

// Rest raises the effective identity back to the elevated one.
func (c *Controller) Rest(s State) (State, error) {
	if err := c.check(s, PhaseRest); err != nil {
		return s, err
	}
	if s.permanent {
		s.phase = PhaseRest
		return s, nil
	}

	if need := c.pair.need(); need.Any() {
		// dropping a root euid clears the effective capability set
		if err := c.elev.Acquire(need); err != nil {
			return s, fmt.Errorf("privilege: %s elevation: %w", c.elev.Name(), err)
		}
	}

	eff := c.pair.Effective
	if err := c.creds.Setresgid(-1, eff.GID, -1); err != nil {
		return s, err
	}
	if err := c.creds.Setresuid(-1, eff.UID, -1); err != nil {
		return s, err
	}

	return c.verify(State{phase: PhaseRest, effective: eff, real: s.real})
}

// Done drops the effective identity to the real one at shutdown.
func (c *Controller) Done(s State) (State, error) {
	if err := c.check(s, PhaseDone); err != nil {
		return s, err
	}
	if s.permanent {
		s.phase = PhaseDone
		return s, nil
	}
	return c.drop(s, PhaseDone)
}

func (c *Controller) drop(s State, phase Phase) (State, error) {
	restricted := c.pair.Real
	if err := c.creds.Setresuid(-1, restricted.UID, -1); err != nil {
		return s, err
	}
	if err := c.creds.Setresgid(-1, restricted.GID, -1); err != nil {
		return s, err
	}
	return c.verify(State{phase: phase, effective: restricted, real: s.real})
}

func (c *Controller) check(s State, to Phase) error {
	if !legal(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.phase, to)
	}
	return nil
}

// verify reads the ids back from the kernel.
func (c *Controller) verify(want State) (State, error) {
	ruid, euid, _ := c.creds.Getresuid()
	rgid, egid, _ := c.creds.Getresgid()

	got := State{
		phase:     want.phase,
		effective: Identity{UID: euid, GID: egid},
		real:      Identity{UID: ruid, GID: rgid},
		permanent: want.permanent,
	}

	c.log.Debug("credentials",
		"phase", want.phase.String(),
		"euid", euid, "egid", egid,
		"ruid", ruid, "rgid", rgid)

	if got.effective != want.effective || got.real != want.real {
		return State{}, fmt.Errorf("%w: %s wants effective (%s) real (%s), have effective (%s) real (%s)",
			ErrIdentityMismatch, want.phase, want.effective, want.real, got.effective, got.real)
	}
	return got, nil
}
