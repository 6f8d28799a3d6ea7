//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// detachedEnv marks the re-executed child so it does not detach again.
const detachedEnv = "PROCMON_DETACHED"

func isDetached() bool { return os.Getenv(detachedEnv) == "1" }

// detach starts a copy of the process in a new session with its standard
// streams on /dev/null. The caller exits once it returns.
func detach() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}
	defer null.Close()

	cmd := exec.Command(exe)
	cmd.Args = append([]string{invokedAs()}, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachedEnv+"=1")
	cmd.Dir = "/"
	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
