//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/procmon/pkg/logging"
	"github.com/ja7ad/procmon/pkg/procmon"
	"github.com/ja7ad/procmon/pkg/system/cgroup"
	"github.com/ja7ad/procmon/pkg/system/util"
)

var version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "procmon [flags]",
		Short: "Runaway process monitor",
		Long: `The procmon tool watches the process table for processes that have used
more CPU time than allowed and signals them. It can run once or as a daemon
that rescans on an interval, optionally with a script hook per violation.

While running as a daemon it keeps elevated credentials only between scans:
the process table is read and signals are sent as the real user.

Examples:
  procmon -c burner -n 600 -s KILL
  procmond -n 3600 -i 60 -u nobody -x /usr/local/bin/notify
  procmon -z -c sleep -m -vv`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			if v.GetBool("version") {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cmd.Root().Name(), version)
				return nil
			}
			cfg, err := loadConfig(v, invokedAs())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	addFlags(root.Flags())
	return root
}

func run(ctx context.Context, cfg procmon.Config, console io.Writer) error {
	detached := isDetached()
	if cfg.Daemon && !cfg.Foreground && !detached {
		pid, err := detach()
		if err != nil {
			return err
		}
		fmt.Fprintf(console, "%s: detached as pid %d\n", cfg.Prog, pid)
		return nil
	}

	level := logging.Level(cfg.Debug)
	log := logging.NewConsole(console, level)
	if detached {
		sl, closer, err := logging.NewSyslog(cfg.Prog, level)
		if err != nil {
			return err
		}
		defer closer.Close()
		log = sl
	}
	slog.SetDefault(log)

	if !detached && (cfg.Verbose > 0 || cfg.Debug > 0) {
		host, kernel, cpus, mem := util.SystemSummary()
		fmt.Fprintf(console, _console, version, host, kernel, cpus, mem, time.Now().Format("2006-01-02 15:04:05"))
	}
	if cfg.Debug > 0 {
		log.Debug("options", "config", cfg)
		if ver, detail, err := cgroup.Detect(); err != nil {
			log.Debug("cgroup detection failed", "err", err)
		} else {
			log.Debug("cgroup", "version", ver.String(), "detail", detail)
		}
	}

	m, err := procmon.New(cfg, procmon.WithLogger(log))
	if err != nil {
		return err
	}

	d := procmon.NewDaemon(m,
		procmon.Detached(detached),
		procmon.WithVersion(version),
		procmon.WithConsole(console),
	)
	if !cfg.Daemon {
		return d.Once(ctx)
	}
	return d.Run(ctx)
}

const _console = `procmon %s - Runaway Process Monitor

       Host: %s
       Kernel: %s
       CPUs: %s
       Mem: %s

Started at %s

`
