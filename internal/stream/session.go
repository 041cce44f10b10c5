package stream

import (
	"os/exec"
)

// Status is the lifecycle state of one stream session.
type Status string

// Stopped sessions are removed from the map rather than kept around, so no
// "stopped" state exists.
const (
	StatusInit    Status = "init"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// session is the live state for one stream. It is owned exclusively by the
// Manager; nothing outside the package holds a reference.
type session struct {
	id      string
	rtspURL string
	dir     string

	cmd    *exec.Cmd
	ring   *LineRing
	waitCh chan error    // receives the cmd.Wait result exactly once
	done   chan struct{} // closed after waitCh is populated

	status Status
	errMsg string
}

func (s *session) exited() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) snapshot() Snapshot {
	return Snapshot{ID: s.id, Status: s.status, Error: s.errMsg}
}
