// Package procgroup spawns external processes in their own process group and
// tears the whole group down with a grace window.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Set configures the command to start in a new process group. Mandatory for
// Kill and Terminate to reach the entire subtree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill signals the process group of the command. Safe on nil commands and on
// processes that have already exited.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	return kill(cmd, sig)
}

// Terminate gracefully stops a process group: terminate signal, wait for the
// exit (via waitCh, which must be fed by the caller's Wait), force-kill after
// grace. It consumes and returns the error from waitCh.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = Kill(cmd, syscall.SIGKILL)
		// SIGKILL frees a blocked Wait; always drain.
		return <-waitCh
	}
}
