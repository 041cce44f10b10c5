// Package stream owns the set of live RTSP→HLS transcoder processes: spawn,
// verify, supervise, extract frames, tear down.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/log"
	"github.com/supervsr/supervsr/internal/procgroup"
)

var (
	// ErrAlreadyRunning is returned by Start when the id is already reserved.
	ErrAlreadyRunning = errors.New("stream already running")
	// ErrLaunchFailed wraps transcoder spawn and verification failures.
	ErrLaunchFailed = errors.New("transcoder launch failed")
)

// Config carries the manager's transcoder and timeout settings.
type Config struct {
	FFmpegBin      string
	SegmentSeconds int
	WindowSize     int
	SocketTimeout  time.Duration
	VerifyTimeout  time.Duration
	ExtractTimeout time.Duration
	StopGrace      time.Duration
}

func (c Config) withDefaults() Config {
	if c.FFmpegBin == "" {
		c.FFmpegBin = "ffmpeg"
	}
	if c.SegmentSeconds < 1 {
		c.SegmentSeconds = 2
	}
	if c.WindowSize < 1 {
		c.WindowSize = 5
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = 5 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 10 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 5 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Manager supervises one external transcoder per stream id. A single mutex
// guards the session map; no caller holds it across I/O.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// Command builders, replaceable in tests.
	newTranscoder func(rtspURL, dir string) *exec.Cmd
	newExtractor  func(ctx context.Context, segmentPath, framePath string) *exec.Cmd
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		logger:   log.WithComponent("stream"),
		sessions: make(map[string]*session),
	}
	m.newTranscoder = m.defaultTranscoder
	m.newExtractor = m.defaultExtractor
	return m
}

func (m *Manager) defaultTranscoder(rtspURL, dir string) *exec.Cmd {
	args := BuildTranscoderArgs(TranscoderSpec{
		RTSPURL:        rtspURL,
		OutputDir:      dir,
		SegmentSeconds: m.cfg.SegmentSeconds,
		WindowSize:     m.cfg.WindowSize,
		SocketTimeout:  m.cfg.SocketTimeout,
	})
	cmd := exec.Command(m.cfg.FFmpegBin, args...) // #nosec G204 -- binary from config
	procgroup.Set(cmd)
	return cmd
}

func (m *Manager) defaultExtractor(ctx context.Context, segmentPath, framePath string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, m.cfg.FFmpegBin, BuildExtractArgs(segmentPath, framePath)...) // #nosec G204
	procgroup.Set(cmd)
	return cmd
}

// Start atomically reserves id, launches the transcoder into a fresh scratch
// dir and blocks until the HLS buffer verifies or the deadline hits. A failed
// start tears everything down before returning.
func (m *Manager) Start(ctx context.Context, id, rtspURL string) error {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		startTotal.WithLabelValues("already").Inc()
		return ErrAlreadyRunning
	}
	sess := &session{id: id, rtspURL: rtspURL, status: StatusInit, ring: NewLineRing(defaultRingCapacity)}
	m.sessions[id] = sess
	m.mu.Unlock()

	logger := log.WithStream("stream", id)

	dir, err := os.MkdirTemp("", "stream_"+id+"_")
	if err != nil {
		m.abortStart(id, "")
		// Scratch dir creation failing is an environment problem, not a
		// stream problem. Let it propagate undecorated.
		return fmt.Errorf("create scratch dir: %w", err)
	}

	cmd := m.newTranscoder(rtspURL, dir)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.abortStart(id, dir)
		return fmt.Errorf("%w: stderr pipe: %v", ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		m.abortStart(id, dir)
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	waitCh := make(chan error, 1)
	done := make(chan struct{})
	ring := sess.ring

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			ring.Append(scanner.Text())
		}
	}()
	go func() {
		err := cmd.Wait()
		waitCh <- err
		close(done)
		if err != nil {
			exitTotal.WithLabelValues("error").Inc()
		} else {
			exitTotal.WithLabelValues("clean").Inc()
		}
	}()

	m.mu.Lock()
	sess.dir = dir
	sess.cmd = cmd
	sess.waitCh = waitCh
	sess.done = done
	m.mu.Unlock()

	verifyCtx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()
	if err := VerifyHLS(verifyCtx, dir, m.cfg.VerifyTimeout); err != nil {
		tail := ring.LastN(5)
		logger.Error().Err(err).Strs("stderr", tail).Msg("hls verification failed, tearing session down")
		m.teardown(id)
		startTotal.WithLabelValues("error").Inc()
		if len(tail) > 0 {
			return fmt.Errorf("%w: %v: %s", ErrLaunchFailed, err, strings.Join(tail, " | "))
		}
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	m.mu.Lock()
	if cur, live := m.sessions[id]; !live || cur != sess {
		// Stop or StopAll popped the reservation while we were still
		// launching; nothing else will reap this process now.
		m.mu.Unlock()
		_ = procgroup.Terminate(cmd, waitCh, m.cfg.StopGrace)
		_ = os.RemoveAll(dir)
		startTotal.WithLabelValues("stopped").Inc()
		logger.Info().Msg("stream stopped during startup")
		return fmt.Errorf("%w: stopped during startup", ErrLaunchFailed)
	}
	sess.status = StatusRunning
	m.mu.Unlock()
	sessionsGauge.Inc()
	startTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Str(log.FieldPlaylistPath, PlaylistPath(dir)).
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("stream running")
	return nil
}

// abortStart removes a reservation that never reached a live process.
func (m *Manager) abortStart(id, dir string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}

// Status returns a snapshot for id. If the process died since the last
// observation the snapshot is synthesized as an error carrying the stderr
// tail, and the session is reaped as a side effect.
func (m *Manager) Status(id string) (Snapshot, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, false
	}
	if sess.status == StatusRunning && sess.exited() {
		tail := sess.ring.LastN(5)
		sess.status = StatusError
		sess.errMsg = "transcoder exited"
		if len(tail) > 0 {
			sess.errMsg += ": " + strings.Join(tail, " | ")
		}
		snap := sess.snapshot()
		delete(m.sessions, id)
		dir := sess.dir
		m.mu.Unlock()

		sessionsGauge.Dec()
		logger := log.WithStream("stream", id)
		logger.Warn().Strs("stderr", tail).Msg("reaped crashed transcoder")
		_ = os.RemoveAll(dir)
		return snap, true
	}
	snap := sess.snapshot()
	m.mu.Unlock()
	return snap, true
}

// Sessions returns snapshots for every live session, sorted by id.
func (m *Manager) Sessions() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dir exposes a session's scratch dir for read-only preview serving.
func (m *Manager) Dir(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.status != StatusRunning {
		return "", false
	}
	return sess.dir, true
}

// LatestFrame extracts a single JPEG from the newest segment of id's rolling
// buffer and returns its path. The path is stable across calls; callers that
// need to keep the image must copy it. Extraction failures leave the session
// state untouched.
func (m *Manager) LatestFrame(ctx context.Context, id string) (string, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.status != StatusRunning || sess.exited() {
		m.mu.Unlock()
		return "", false
	}
	dir := sess.dir
	m.mu.Unlock()

	logger := log.WithStream("stream", id)

	segment, err := newestSegment(dir)
	if err != nil {
		logger.Warn().Err(err).Msg("no segment available for frame extraction")
		extractTotal.WithLabelValues("error").Inc()
		return "", false
	}

	framePath := filepath.Join(dir, id+"_latest.jpg")
	extractCtx, cancel := context.WithTimeout(ctx, m.cfg.ExtractTimeout)
	defer cancel()

	cmd := m.newExtractor(extractCtx, segment, framePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warn().Err(err).Str("segment", segment).Str("output", tailString(out)).Msg("frame extraction failed")
		extractTotal.WithLabelValues("error").Inc()
		return "", false
	}
	if _, err := os.Stat(framePath); err != nil {
		extractTotal.WithLabelValues("error").Inc()
		return "", false
	}
	extractTotal.WithLabelValues("ok").Inc()
	return framePath, true
}

// Stop pops the session, terminates its process group (grace, then kill) and
// removes the scratch dir. Unknown ids are a no-op.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if sess.status == StatusRunning {
		sessionsGauge.Dec()
	}
	if sess.cmd != nil {
		_ = procgroup.Terminate(sess.cmd, sess.waitCh, m.cfg.StopGrace)
	}
	if sess.dir != "" {
		_ = os.RemoveAll(sess.dir)
	}
	logger := log.WithStream("stream", id)
	logger.Info().Msg("stream stopped")
}

// StopAll stops every live session. Registered at process shutdown;
// idempotent.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// newestSegment picks the freshest .ts file in dir: newest mtime, then
// highest name, so the rolling window's tail wins.
func newestSegment(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var best string
	var bestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		switch {
		case best == "",
			info.ModTime().After(bestTime),
			info.ModTime().Equal(bestTime) && entry.Name() > filepath.Base(best):
			best = filepath.Join(dir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no segments in %s", dir)
	}
	return best, nil
}

// teardown force-stops a session that failed verification.
func (m *Manager) teardown(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if sess.cmd != nil {
		_ = procgroup.Terminate(sess.cmd, sess.waitCh, m.cfg.StopGrace)
	}
	if sess.dir != "" {
		_ = os.RemoveAll(sess.dir)
	}
}

func tailString(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return s
}
