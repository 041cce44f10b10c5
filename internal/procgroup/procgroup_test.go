//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}

func TestTerminateGraceful(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 5*time.Second)
	assert.Less(t, time.Since(start), 2*time.Second, "sleep should die on SIGTERM well before the grace window")
}

func TestTerminateForceKillsStubborn(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; while true; do sleep 1; done")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	err := Terminate(cmd, waitCh, 500*time.Millisecond)
	assert.Error(t, err, "SIGKILL exit should surface as a wait error")
	assert.Less(t, time.Since(start), 10*time.Second)

	// No live process with that pgid remains.
	assert.Error(t, syscall.Kill(-cmd.Process.Pid, 0))
}

func TestKillSignalsWholeGroup(t *testing.T) {
	// The shell spawns a child; killing the group must reach both.
	cmd := exec.Command("sh", "-c", "sleep 60 & wait")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	require.NoError(t, Kill(cmd, syscall.SIGKILL))
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("process group did not exit after SIGKILL")
	}
}
