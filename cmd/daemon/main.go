// Command daemon runs the stream supervision pipeline: RTSP ingestion,
// screenshot capture, grid composition, vision analysis and the operator
// HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/supervsr/supervsr/internal/api"
	"github.com/supervsr/supervsr/internal/capture"
	"github.com/supervsr/supervsr/internal/catalog"
	"github.com/supervsr/supervsr/internal/config"
	"github.com/supervsr/supervsr/internal/log"
	"github.com/supervsr/supervsr/internal/objectstore"
	"github.com/supervsr/supervsr/internal/sched"
	"github.com/supervsr/supervsr/internal/stitch"
	"github.com/supervsr/supervsr/internal/stream"
	"github.com/supervsr/supervsr/internal/vision"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

// frameSource adapts the stream manager to the capture pipeline.
type frameSource struct {
	manager *stream.Manager
}

func (f frameSource) LatestFrame(ctx context.Context, id string) (string, error) {
	path, ok := f.manager.LatestFrame(ctx, id)
	if !ok {
		return "", fmt.Errorf("no frame available for stream %s", id)
	}
	return path, nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "supervsr"})
	logger := log.WithComponent("daemon")

	if err := cfg.ValidateCredentials(); err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "config.credentials").Msg("credential check failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := catalog.NewClient(cfg.APIBaseURL)
	inventory := catalog.NewCatalog(client, cfg.CatalogTTL)

	manager := stream.NewManager(stream.Config{
		FFmpegBin:      cfg.FFmpegBin,
		SegmentSeconds: cfg.HLSSegmentSeconds,
		WindowSize:     cfg.HLSWindowSize,
		SocketTimeout:  cfg.RTSPSocketTimeout,
		VerifyTimeout:  cfg.VerifyTimeout,
		ExtractTimeout: cfg.ExtractTimeout,
		StopGrace:      cfg.StopGrace,
	})
	defer manager.StopAll()

	store, err := objectstore.NewGCS(ctx, cfg.GCSCredentialsPath, cfg.GCSBucketName)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "objectstore.open").Msg("object store unavailable")
	}
	defer func() { _ = store.Close() }()

	stitcher, err := stitch.New(cfg.GridRows, cfg.GridCols)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "stitch.init").Msg("invalid grid geometry")
	}

	analyzer, err := vision.New(ctx, vision.Config{
		APIKey:      cfg.GeminiAPIKey,
		Model:       cfg.GeminiModel,
		Temperature: cfg.GeminiTemperature,
		Timeout:     cfg.GeminiTimeout,
		PerMinute:   cfg.VisionPerMinute,
	})
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "vision.init").Msg("vision client unavailable")
	}

	processor := capture.NewProcessor(capture.Config{
		GridRows:   cfg.GridRows,
		GridCols:   cfg.GridCols,
		PerGrid:    cfg.ScreenshotsPerGrid,
		UploadsDir: cfg.UploadsDir,
	}, frameSource{manager}, store, stitcher, analyzer, client)

	supervisor, err := sched.New(sched.Config{
		CaptureInterval: cfg.CaptureInterval,
		VerifyInterval:  cfg.VerifyInterval,
	}, inventory, manager, processor)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "sched.init").Msg("scheduler unavailable")
	}

	server := api.NewServer(api.Config{RequestsPerMinute: cfg.RequestsPerMinute}, manager)

	logger.Info().
		Str("version", version).
		Str(log.FieldBaseURL, cfg.APIBaseURL).
		Str("listen_addr", cfg.ListenAddr).
		Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		err := server.ListenAndServe(gctx, cfg.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		manager.StopAll()
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}

	manager.StopAll()
	logger.Info().Msg("daemon stopped")
}
