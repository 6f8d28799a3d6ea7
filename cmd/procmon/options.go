//go:build linux

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ja7ad/procmon/pkg/procmon"
	"github.com/ja7ad/procmon/pkg/system/privilege"
	"github.com/ja7ad/procmon/pkg/system/util"
	"github.com/ja7ad/procmon/pkg/types"
)

const envPrefix = "PROCMON"

func addFlags(fs *pflag.FlagSet) {
	fs.StringP("command", "c", "", "command to monitor (default: all processes)")
	fs.Uint64P("limit", "n", uint64(procmon.DefaultLimit), "CPU time limit in seconds")
	fs.BoolP("daemon", "b", false, "run as a daemon, scanning every interval")
	fs.StringP("script", "x", "", "script to run on violation, called with PID and command name")
	fs.StringP("signal", "s", "SIGTERM", "signal to send (number or name, 0 only reports)")
	fs.StringP("interval", "i", "60", "scan interval in seconds or as a duration (e.g. 90s)")
	fs.BoolP("foreground", "f", false, "do not detach in daemon mode")
	fs.BoolP("fuzzy", "z", false, "match the command as a substring of the command line")
	fs.StringP("pidfile", "p", procmon.DefaultPIDFile, "PID file for daemon mode")
	fs.StringP("user", "u", "", "user to scan and signal as")
	fs.IntP("uid", "U", -1, "user id to scan and signal as")
	fs.StringP("group", "g", "", "group to scan and signal as")
	fs.IntP("gid", "G", -1, "group id to scan and signal as")
	fs.BoolP("secure", "S", false, "drop to the configured identity permanently at startup")
	fs.BoolP("dry-run", "m", false, "report violations without acting on them")
	fs.CountP("debug", "d", "debug output (repeat for more)")
	fs.CountP("verbose", "v", "verbose output (repeat for more)")
	fs.BoolP("version", "V", false, "print the version and exit")

	fs.String("config", "", "configuration file (yaml, json or toml)")
	fs.Int("ticks", 0, "clock ticks per second of the CPU time counters (default: from the system)")
	fs.Duration("script-timeout", procmon.DefaultScriptTimeout, "time a violation script may run")
	fs.String("syslog-addr", "", "send violation reports to a remote RFC 5424 collector (udp://host:port or tcp://host:port)")
	fs.String("metrics-file", "", "write Prometheus metrics to this textfile after every cycle")
}

// newViper binds the flags, the PROCMON_ environment and an optional
// configuration file, in increasing order of precedence: file, env, flags.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// loadConfig resolves the monitor configuration. argv0 is how the binary
// was invoked.
func loadConfig(v *viper.Viper, argv0 string) (procmon.Config, error) {
	cfg := procmon.DefaultConfig()

	cfg.Filter = v.GetString("command")
	cfg.Limit = types.Seconds(v.GetUint64("limit"))
	cfg.Daemon = v.GetBool("daemon")
	cfg.Script = v.GetString("script")
	cfg.Foreground = v.GetBool("foreground")
	cfg.Fuzzy = v.GetBool("fuzzy")
	cfg.PIDFile = v.GetString("pidfile")
	cfg.Secure = v.GetBool("secure")
	cfg.DryRun = v.GetBool("dry-run")
	cfg.Debug = v.GetInt("debug")
	cfg.Verbose = v.GetInt("verbose")
	cfg.Ticks = v.GetInt("ticks")
	cfg.ScriptTimeout = v.GetDuration("script-timeout")
	cfg.SyslogAddr = v.GetString("syslog-addr")
	cfg.MetricsFile = v.GetString("metrics-file")

	sig, err := util.ParseSignal(v.GetString("signal"))
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", procmon.ErrConfig, err)
	}
	cfg.Signal = sig

	if cfg.Interval, err = parseInterval(v.GetString("interval")); err != nil {
		return cfg, fmt.Errorf("%w: interval: %w", procmon.ErrConfig, err)
	}

	eff, err := resolveIdentity(cfg.Identity.Real, v.GetString("user"), v.GetInt("uid"),
		v.GetString("group"), v.GetInt("gid"))
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", procmon.ErrConfig, err)
	}
	cfg.Identity.Effective = eff

	cfg.Self = argv0
	cfg.Prog = filepath.Base(argv0)

	cfg.Normalize()
	return cfg, cfg.Validate()
}

// parseInterval takes whole seconds or a Go duration.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// resolveIdentity starts from the real ids; names are looked up first and
// numeric ids override them.
func resolveIdentity(base privilege.Identity, name string, uid int, group string, gid int) (privilege.Identity, error) {
	id := base

	if name != "" {
		u, err := user.Lookup(name)
		if err != nil {
			return id, fmt.Errorf("unknown user %q: %w", name, err)
		}
		if id.UID, err = strconv.Atoi(u.Uid); err != nil {
			return id, fmt.Errorf("user %q: bad uid %q", name, u.Uid)
		}
	}
	if uid >= 0 {
		id.UID = uid
	}

	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return id, fmt.Errorf("unknown group %q: %w", group, err)
		}
		if id.GID, err = strconv.Atoi(g.Gid); err != nil {
			return id, fmt.Errorf("group %q: bad gid %q", group, g.Gid)
		}
	}
	if gid >= 0 {
		id.GID = gid
	}
	return id, nil
}

func invokedAs() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return os.Args[0]
	}
	return "procmon"
}
