// Package capture runs the per-stream screenshot cycle: grab the latest
// frame, persist it, and every N frames compose a grid and hand it to the
// vision model under the stream's SOP.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/catalog"
	"github.com/supervsr/supervsr/internal/log"
	"github.com/supervsr/supervsr/internal/objectstore"
	"github.com/supervsr/supervsr/internal/stitch"
	"github.com/supervsr/supervsr/internal/vision"
)

var (
	screenshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervsr_screenshots_total",
		Help: "Total number of screenshot capture attempts",
	}, []string{"result"})
	gridsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervsr_grids_total",
		Help: "Total number of grid dispatch attempts",
	}, []string{"result"})
)

// FrameSource produces the newest frame of a running stream as a local file.
type FrameSource interface {
	LatestFrame(ctx context.Context, id string) (string, error)
}

// Store persists blobs and answers recency queries.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Recent(ctx context.Context, streamID string, n int) ([]objectstore.Object, error)
}

// Composer builds the grid image from screenshot sources.
type Composer interface {
	Compose(ctx context.Context, sources []stitch.Source, outPath string) ([]byte, error)
}

// Analyzer runs the vision model over a grid.
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, prompt string, schema *vision.Schema) (json.RawMessage, error)
}

// Recorder resolves SOP definitions and records analysis results.
type Recorder interface {
	SOP(ctx context.Context, id catalog.ID) (*catalog.SOP, error)
	CreateAnalysis(ctx context.Context, a catalog.Analysis) error
}

// Config sizes the grid and locates the local mirror.
type Config struct {
	GridRows   int
	GridCols   int
	PerGrid    int // screenshots accumulated before a grid is dispatched
	UploadsDir string
}

func (c Config) withDefaults() Config {
	if c.GridRows < 1 {
		c.GridRows = 2
	}
	if c.GridCols < 1 {
		c.GridCols = 3
	}
	if c.PerGrid < 1 {
		c.PerGrid = c.GridRows * c.GridCols
	}
	if c.UploadsDir == "" {
		c.UploadsDir = "uploads"
	}
	return c
}

// Processor drives the capture cycle. Streams are processed independently;
// a per-stream mutex keeps overlapping ticks for the same stream serialized.
type Processor struct {
	cfg      Config
	frames   FrameSource
	store    Store
	composer Composer
	analyzer Analyzer
	recorder Recorder
	logger   zerolog.Logger

	now func() time.Time

	mu       sync.Mutex
	counters map[string]int
	locks    map[string]*sync.Mutex
}

func NewProcessor(cfg Config, frames FrameSource, store Store, composer Composer, analyzer Analyzer, recorder Recorder) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:      cfg,
		frames:   frames,
		store:    store,
		composer: composer,
		analyzer: analyzer,
		recorder: recorder,
		logger:   log.WithComponent("capture"),
		now:      time.Now,
		counters: make(map[string]int),
		locks:    make(map[string]*sync.Mutex),
	}
	if cfg.PerGrid != cfg.GridRows*cfg.GridCols {
		p.logger.Warn().
			Int("per_grid", cfg.PerGrid).
			Int(log.FieldGridRows, cfg.GridRows).
			Int(log.FieldGridCols, cfg.GridCols).
			Msg("screenshots per grid does not match grid capacity")
	}
	return p
}

// Process runs one capture cycle for the stream. A failed frame grab or
// upload leaves the counter untouched, so a grid is only dispatched after
// PerGrid successful captures.
func (p *Processor) Process(ctx context.Context, stream catalog.Stream) error {
	lock := p.streamLock(stream.ID.String())
	lock.Lock()
	defer lock.Unlock()

	logger := p.logger.With().Str(log.FieldStreamID, stream.ID.String()).Logger()

	framePath, err := p.frames.LatestFrame(ctx, stream.ID.String())
	if err != nil {
		screenshotsTotal.WithLabelValues("frame_error").Inc()
		return fmt.Errorf("capture: latest frame of %s: %w", stream.ID, err)
	}
	data, err := os.ReadFile(framePath) // #nosec G304 -- path produced by the stream manager
	if err != nil {
		screenshotsTotal.WithLabelValues("frame_error").Inc()
		return fmt.Errorf("capture: read frame of %s: %w", stream.ID, err)
	}

	key := objectstore.ScreenshotKey(stream.ID.String(), stream.Name, p.now())
	if _, err := p.store.Upload(ctx, key, data, "image/jpeg"); err != nil {
		screenshotsTotal.WithLabelValues("upload_error").Inc()
		return fmt.Errorf("capture: upload screenshot of %s: %w", stream.ID, err)
	}
	p.mirror(logger, "screenshots", key, data)
	screenshotsTotal.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.counters[stream.ID.String()]++
	count := p.counters[stream.ID.String()]
	dispatch := count >= p.cfg.PerGrid
	if dispatch {
		// Reset before dispatching so the next cycle starts a fresh
		// batch even if the grid fails.
		p.counters[stream.ID.String()] = 0
	}
	p.mu.Unlock()

	logger.Debug().
		Str(log.FieldBlobKey, key).
		Int(log.FieldScreenshotCount, count).
		Msg("screenshot captured")

	if !dispatch {
		return nil
	}
	return p.dispatchGrid(ctx, logger, stream)
}

// dispatchGrid composes the most recent batch into a grid, runs the
// stream's first SOP over it and records the result.
func (p *Processor) dispatchGrid(ctx context.Context, logger zerolog.Logger, stream catalog.Stream) error {
	dispatchID := uuid.NewString()
	logger = logger.With().Str(log.FieldDispatchID, dispatchID).Logger()

	recent, err := p.store.Recent(ctx, stream.ID.String(), p.cfg.PerGrid)
	if err != nil {
		gridsTotal.WithLabelValues("list_error").Inc()
		return fmt.Errorf("capture: list recent screenshots of %s: %w", stream.ID, err)
	}
	if len(recent) < p.cfg.PerGrid {
		gridsTotal.WithLabelValues("skipped").Inc()
		logger.Warn().
			Int("found", len(recent)).
			Int("want", p.cfg.PerGrid).
			Msg("not enough screenshots for a grid, skipping dispatch")
		return nil
	}

	gridKey := objectstore.GridKeyFor(recent[0].Key)
	localPath := filepath.Join(p.cfg.UploadsDir, filepath.FromSlash(gridKey))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		gridsTotal.WithLabelValues("compose_error").Inc()
		return fmt.Errorf("capture: prepare grid dir: %w", err)
	}

	sources := make([]stitch.Source, len(recent))
	for i, obj := range recent {
		base := path.Base(obj.Key)
		sources[i] = stitch.Source{URL: obj.URL, Label: strings.TrimSuffix(base, path.Ext(base))}
	}
	data, err := p.composer.Compose(ctx, sources, localPath)
	if err != nil {
		gridsTotal.WithLabelValues("compose_error").Inc()
		return fmt.Errorf("capture: compose grid for %s: %w", stream.ID, err)
	}
	if _, err := p.store.Upload(ctx, gridKey, data, "image/png"); err != nil {
		gridsTotal.WithLabelValues("upload_error").Inc()
		return fmt.Errorf("capture: upload grid for %s: %w", stream.ID, err)
	}
	logger.Info().Str(log.FieldBlobKey, gridKey).Msg("grid composed and uploaded")

	if len(stream.SOPs) == 0 {
		gridsTotal.WithLabelValues("no_sop").Inc()
		logger.Warn().Msg("stream has no SOP, grid left unanalyzed")
		return nil
	}
	// Only the first SOP drives analysis for now.
	sopRef := stream.SOPs[0]
	if len(stream.SOPs) > 1 {
		logger.Debug().Int("skipped_sops", len(stream.SOPs)-1).Msg("additional SOPs not evaluated")
	}
	sop, err := p.recorder.SOP(ctx, sopRef.ID)
	if err != nil {
		gridsTotal.WithLabelValues("sop_error").Inc()
		return fmt.Errorf("capture: resolve SOP %s: %w", sopRef.ID, err)
	}

	output, err := p.analyzer.Analyze(ctx, localPath, sop.Prompt, sop.Schema)
	if err != nil {
		gridsTotal.WithLabelValues("analysis_error").Inc()
		return fmt.Errorf("capture: analyze grid for %s: %w", stream.ID, err)
	}
	if err := p.recorder.CreateAnalysis(ctx, catalog.Analysis{
		RTSPID: stream.ID,
		SOPID:  sop.ID,
		Output: output,
	}); err != nil {
		gridsTotal.WithLabelValues("record_error").Inc()
		return fmt.Errorf("capture: record analysis for %s: %w", stream.ID, err)
	}

	gridsTotal.WithLabelValues("ok").Inc()
	logger.Info().Str(log.FieldSOPID, sop.ID.String()).Msg("analysis recorded")
	return nil
}

// mirror keeps a local copy of uploaded blobs for the operator surface.
// Mirror failures are logged, never fatal.
func (p *Processor) mirror(logger zerolog.Logger, kind, key string, data []byte) {
	dir := filepath.Join(p.cfg.UploadsDir, kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, dir).Msg("local mirror unavailable")
		return
	}
	dst := filepath.Join(dir, path.Base(key))
	if err := renameio.WriteFile(dst, data, 0o640); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, dst).Msg("local mirror write failed")
	}
}

// Count reports the accumulated screenshots of one stream, for diagnostics.
func (p *Processor) Count(streamID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[streamID]
}

func (p *Processor) streamLock(id string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}
