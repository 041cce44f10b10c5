// Package sched drives the pipeline: it brings streams up at startup, keeps
// them alive and fires the periodic capture cycle.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/supervsr/supervsr/internal/catalog"
	"github.com/supervsr/supervsr/internal/log"
	"github.com/supervsr/supervsr/internal/stream"
)

// StreamController is the slice of the stream manager the supervisor drives.
type StreamController interface {
	Start(ctx context.Context, id, rtspURL string) error
	Status(id string) (stream.Snapshot, bool)
	Stop(id string)
}

// Processor runs one capture cycle for a stream.
type Processor interface {
	Process(ctx context.Context, s catalog.Stream) error
}

// Inventory lists the streams to supervise.
type Inventory interface {
	Streams(ctx context.Context) ([]catalog.Stream, error)
}

// Config carries the tick intervals.
type Config struct {
	CaptureInterval time.Duration
	VerifyInterval  time.Duration
	InitRetryDelay  time.Duration
	// Parallelism bounds concurrent per-stream work within one tick.
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.CaptureInterval <= 0 {
		c.CaptureInterval = 10 * time.Second
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = time.Minute
	}
	if c.InitRetryDelay <= 0 {
		c.InitRetryDelay = 5 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
	return c
}

// Supervisor owns the periodic jobs. Each job runs in singleton mode: a tick
// that arrives while the previous one is still running is dropped, so slow
// upstreams cannot pile up goroutines.
type Supervisor struct {
	cfg       Config
	inventory Inventory
	streams   StreamController
	processor Processor
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

func New(cfg Config, inventory Inventory, streams StreamController, processor Processor) (*Supervisor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sched: new scheduler: %w", err)
	}
	return &Supervisor{
		cfg:       cfg.withDefaults(),
		inventory: inventory,
		streams:   streams,
		processor: processor,
		scheduler: scheduler,
		logger:    log.WithComponent("sched"),
	}, nil
}

// Run initializes the streams, starts the periodic jobs and blocks until ctx
// is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"verify", s.cfg.VerifyInterval, s.verifyTick},
		{"capture", s.cfg.CaptureInterval, s.captureTick},
	}
	for _, job := range jobs {
		name := job.name
		fn := job.fn
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func() {
				if err := fn(ctx); err != nil {
					s.logger.Error().Err(err).Str(log.FieldEvent, name).Msg("tick finished with errors")
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("sched: register %s job: %w", name, err)
		}
	}

	s.scheduler.Start()
	s.logger.Info().
		Dur("capture_interval", s.cfg.CaptureInterval).
		Dur("verify_interval", s.cfg.VerifyInterval).
		Msg("supervisor running")

	<-ctx.Done()
	return s.scheduler.Shutdown()
}

// initialize brings every known stream up once at startup. Only the
// inventory fetch is fatal, and only after one retry; individual streams
// that fail to start are logged and left for the verify cycle to recover.
func (s *Supervisor) initialize(ctx context.Context) error {
	streams, err := s.inventory.Streams(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Dur("retry_in", s.cfg.InitRetryDelay).Msg("initial inventory fetch failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.InitRetryDelay):
		}
		streams, err = s.inventory.Streams(ctx)
		if err != nil {
			return fmt.Errorf("sched: initialize streams: %w", err)
		}
	}

	if err := s.bringUp(ctx, streams); err != nil {
		s.logger.Warn().Err(err).Msg("some streams failed to start, verify cycle will retry")
	}
	return nil
}

// verifyTick reconciles the inventory against the live sessions: unknown and
// dead streams are (re)started.
func (s *Supervisor) verifyTick(ctx context.Context) error {
	streams, err := s.inventory.Streams(ctx)
	if err != nil {
		return fmt.Errorf("sched: list streams: %w", err)
	}
	return s.bringUp(ctx, streams)
}

// bringUp starts every stream that is not already healthy. Plain group, not
// WithContext: one failing stream must not cancel the bring-up of its
// siblings.
func (s *Supervisor) bringUp(ctx context.Context, streams []catalog.Stream) error {
	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for _, st := range streams {
		g.Go(func() error {
			return s.ensureRunning(ctx, st)
		})
	}
	return g.Wait()
}

func (s *Supervisor) ensureRunning(ctx context.Context, st catalog.Stream) error {
	id := st.ID.String()
	snap, known := s.streams.Status(id)
	if known && snap.Status == stream.StatusRunning {
		return nil
	}
	if known {
		s.logger.Warn().
			Str(log.FieldStreamID, id).
			Str(log.FieldOldState, string(snap.Status)).
			Msg("stream not healthy, restarting")
		s.streams.Stop(id)
	}

	err := s.streams.Start(ctx, id, st.RTSPURL)
	switch {
	case err == nil:
		s.logger.Info().Str(log.FieldStreamID, id).Msg("stream started")
		return nil
	case errors.Is(err, stream.ErrAlreadyRunning):
		return nil
	default:
		s.logger.Error().Err(err).Str(log.FieldStreamID, id).Msg("stream start failed")
		return err
	}
}

// captureTick runs one capture cycle for every running stream.
func (s *Supervisor) captureTick(ctx context.Context) error {
	streams, err := s.inventory.Streams(ctx)
	if err != nil {
		return fmt.Errorf("sched: list streams: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for _, st := range streams {
		snap, ok := s.streams.Status(st.ID.String())
		if !ok || snap.Status != stream.StatusRunning {
			continue
		}
		g.Go(func() error {
			if err := s.processor.Process(ctx, st); err != nil {
				s.logger.Error().Err(err).Str(log.FieldStreamID, st.ID.String()).Msg("capture cycle failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
