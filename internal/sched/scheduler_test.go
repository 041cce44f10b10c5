package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supervsr/supervsr/internal/catalog"
	"github.com/supervsr/supervsr/internal/stream"
)

type fakeInventory struct {
	mu      sync.Mutex
	streams []catalog.Stream
	errs    []error // popped per call, nil once drained
	calls   int
}

func (f *fakeInventory) Streams(context.Context) ([]catalog.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.streams, nil
}

type fakeController struct {
	mu         sync.Mutex
	statuses   map[string]stream.Status
	started    []string
	stopped    []string
	startErr   error // persistent failure
	startFails int   // transient: fail this many attempts, then succeed
}

func newFakeController() *fakeController {
	return &fakeController{statuses: make(map[string]stream.Status)}
}

func (f *fakeController) Start(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.startFails > 0 {
		f.startFails--
		return errors.New("transcoder launch failed")
	}
	f.started = append(f.started, id)
	f.statuses[id] = stream.StatusRunning
	return nil
}

func (f *fakeController) Status(id string) (stream.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return stream.Snapshot{}, false
	}
	return stream.Snapshot{ID: id, Status: st}, true
}

func (f *fakeController) Stop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	delete(f.statuses, id)
}

type fakeProcessor struct {
	calls atomic.Int64
	inUse atomic.Int64
	peak  atomic.Int64
	delay time.Duration
}

func (f *fakeProcessor) Process(context.Context, catalog.Stream) error {
	f.calls.Add(1)
	cur := f.inUse.Add(1)
	defer f.inUse.Add(-1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return nil
}

func twoStreams() []catalog.Stream {
	return []catalog.Stream{
		{ID: "7", Name: "Loading Dock", RTSPURL: "rtsp://cam-7.local/main"},
		{ID: "8", Name: "Front Gate", RTSPURL: "rtsp://cam-8.local/main"},
	}
}

func newSupervisor(t *testing.T, inv *fakeInventory, ctrl *fakeController, proc *fakeProcessor, cfg Config) *Supervisor {
	t.Helper()
	s, err := New(cfg, inv, ctrl, proc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.scheduler.Shutdown() })
	return s
}

func TestVerifyTickStartsUnknownStreams(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{})

	require.NoError(t, s.verifyTick(context.Background()))
	assert.ElementsMatch(t, []string{"7", "8"}, ctrl.started)
	assert.Empty(t, ctrl.stopped)
}

func TestVerifyTickRestartsDeadStream(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	ctrl.statuses["7"] = stream.StatusError
	ctrl.statuses["8"] = stream.StatusRunning
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{})

	require.NoError(t, s.verifyTick(context.Background()))
	assert.Equal(t, []string{"7"}, ctrl.stopped)
	assert.Equal(t, []string{"7"}, ctrl.started)
}

func TestVerifyTickKeepsGoingPastFailures(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	ctrl.startErr = errors.New("launch failed")
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{})

	err := s.verifyTick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, inv.calls)
}

func TestCaptureTickProcessesOnlyRunningStreams(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	ctrl.statuses["7"] = stream.StatusRunning
	ctrl.statuses["8"] = stream.StatusError
	proc := &fakeProcessor{}
	s := newSupervisor(t, inv, ctrl, proc, Config{})

	require.NoError(t, s.captureTick(context.Background()))
	assert.Equal(t, int64(1), proc.calls.Load())
}

func TestInitializeRetriesOnce(t *testing.T) {
	inv := &fakeInventory{
		streams: twoStreams(),
		errs:    []error{errors.New("backend warming up")},
	}
	ctrl := newFakeController()
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{InitRetryDelay: 10 * time.Millisecond})

	require.NoError(t, s.initialize(context.Background()))
	assert.Equal(t, 2, inv.calls)
	assert.Len(t, ctrl.started, 2)
}

func TestInitializeGivesUpWhenInventoryStaysDown(t *testing.T) {
	inv := &fakeInventory{errs: []error{errors.New("down"), errors.New("still down")}}
	s := newSupervisor(t, inv, newFakeController(), &fakeProcessor{}, Config{InitRetryDelay: 10 * time.Millisecond})

	assert.Error(t, s.initialize(context.Background()))
	assert.Equal(t, 2, inv.calls)
}

func TestInitializeToleratesStreamStartFailures(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	ctrl.startErr = errors.New("camera unreachable")
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{InitRetryDelay: 10 * time.Millisecond})

	require.NoError(t, s.initialize(context.Background()), "dead cameras must not abort startup")
	assert.Equal(t, 1, inv.calls, "stream failures do not trigger the inventory retry")
}

func TestRunRecoversStreamAfterStartFailures(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()[:1]}
	ctrl := newFakeController()
	ctrl.startFails = 2 // fails at startup and on the first verify tick
	s := newSupervisor(t, inv, ctrl, &fakeProcessor{}, Config{
		CaptureInterval: time.Hour,
		VerifyInterval:  20 * time.Millisecond,
		InitRetryDelay:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []string{"7"}, ctrl.started, "verify cycle eventually brings the stream up")
}

func TestRunFiresCaptureTicks(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()}
	ctrl := newFakeController()
	proc := &fakeProcessor{}
	s := newSupervisor(t, inv, ctrl, proc, Config{
		CaptureInterval: 20 * time.Millisecond,
		VerifyInterval:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, proc.calls.Load(), int64(2), "capture tick fired repeatedly")
	assert.Len(t, ctrl.started, 2, "streams brought up at startup")
}

func TestRunDropsOverlappingTicks(t *testing.T) {
	inv := &fakeInventory{streams: twoStreams()[:1]}
	ctrl := newFakeController()
	proc := &fakeProcessor{delay: 120 * time.Millisecond}
	s := newSupervisor(t, inv, ctrl, proc, Config{
		CaptureInterval: 20 * time.Millisecond,
		VerifyInterval:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int64(1), proc.peak.Load(), "slow cycles never overlap")
	assert.LessOrEqual(t, proc.calls.Load(), int64(4), "late ticks dropped, not queued")
}
