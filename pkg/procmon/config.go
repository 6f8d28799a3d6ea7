//go:build linux

package procmon

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/proc"
	"github.com/ja7ad/procmon/pkg/system/util"
	"github.com/ja7ad/procmon/pkg/types"
)

const (
	DefaultLimit         types.Seconds = 3600
	DefaultInterval                    = 60 * time.Second
	DefaultSignal                      = unix.SIGTERM
	DefaultPIDFile                     = "/var/run/procmond.pid"
	DefaultScriptTimeout               = 30 * time.Second
)

// Config is the monitor configuration. It is not changed after startup.
type Config struct {
	// Filter is the command to look for. Empty matches every process.
	Filter string
	// Fuzzy matches Filter as a substring instead of the whole name.
	Fuzzy bool
	// Cmdline compares against argv[0] instead of the short command name.
	Cmdline bool

	Limit    types.Seconds
	Signal   unix.Signal
	Interval time.Duration

	DryRun        bool
	Script        string
	ScriptTimeout time.Duration

	Identity privilege.Pair
	Secure   bool

	Daemon     bool
	Foreground bool
	Verbose    int
	Debug      int

	// Ticks is the rate of the utime/stime counters.
	Ticks int

	// Self is how the monitor was invoked (argv[0]), Prog its base name.
	Self string
	Prog string

	PIDFile     string
	SyslogAddr  string
	MetricsFile string
}

// DefaultConfig returns the defaults, running as the caller's own identity.
func DefaultConfig() Config {
	self := privilege.Identity{UID: unix.Getuid(), GID: unix.Getgid()}
	return Config{
		Limit:         DefaultLimit,
		Signal:        DefaultSignal,
		Interval:      DefaultInterval,
		ScriptTimeout: DefaultScriptTimeout,
		Identity:      privilege.Pair{Real: self, Effective: self},
		Ticks:         proc.ClockTicks(),
		PIDFile:       DefaultPIDFile,
	}
}

// Normalize applies the derived settings: a filter containing a path, or
// fuzzy matching, is compared against the command line.
func (c *Config) Normalize() {
	if strings.Contains(c.Filter, "/") || c.Fuzzy {
		c.Cmdline = true
	}
	if c.Prog == "procmond" {
		c.Daemon = true
	}
	if c.Ticks <= 0 {
		c.Ticks = proc.ClockTicks()
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = DefaultScriptTimeout
	}
}

// Validate reports settings the monitor cannot work with.
func (c Config) Validate() error {
	if c.Ticks <= 0 {
		return fmt.Errorf("%w: ticks per second must be > 0", ErrConfig)
	}
	if c.Daemon && c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrConfig)
	}
	if c.Signal < 0 || c.Signal > 64 {
		return fmt.Errorf("%w: signal %d out of range", ErrConfig, int(c.Signal))
	}
	if c.Daemon && c.PIDFile == "" {
		return fmt.Errorf("%w: daemon mode needs a pid file", ErrConfig)
	}
	if c.Identity.Real.UID < 0 || c.Identity.Real.GID < 0 ||
		c.Identity.Effective.UID < 0 || c.Identity.Effective.GID < 0 {
		return fmt.Errorf("%w: negative user or group id", ErrConfig)
	}
	return nil
}

// LogValue is the option dump printed at startup in debug mode.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("command", c.Filter),
		slog.Uint64("limit", uint64(c.Limit)),
		slog.Bool("cmdline", c.Cmdline),
		slog.Bool("daemon", c.Daemon),
		slog.Int("debug", c.Debug),
		slog.Int("verbose", c.Verbose),
		slog.Bool("foreground", c.Foreground),
		slog.Bool("fuzzy", c.Fuzzy),
		slog.Duration("interval", c.Interval),
		slog.String("signal", util.SignalName(c.Signal)),
		slog.String("script", c.Script),
		slog.Duration("script_timeout", c.ScriptTimeout),
		slog.Int("ticks", c.Ticks),
		slog.Bool("dry_run", c.DryRun),
		slog.String("pidfile", c.PIDFile),
		slog.String("uid", fmt.Sprintf("%d (%d)", c.Identity.Effective.UID, c.Identity.Real.UID)),
		slog.String("gid", fmt.Sprintf("%d (%d)", c.Identity.Effective.GID, c.Identity.Real.GID)),
		slog.Bool("secure", c.Secure),
	)
}
