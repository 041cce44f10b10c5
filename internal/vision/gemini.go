// Package vision adapts SOP prompts and output schemas onto the Gemini
// generate-content API.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/supervsr/supervsr/internal/log"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "supervsr_vision_requests_total",
	Help: "Total number of vision model calls",
}, []string{"result"})

// supportedMIMETypes are the raster formats accepted for analysis.
var supportedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/bmp":  {},
}

// Config carries the vision adapter settings.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	PerMinute   int // upper bound on model calls per minute, 0 disables
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Temperature == 0 {
		c.Temperature = 1.0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Client issues schema-constrained, deadline-bounded analysis calls.
type Client struct {
	cfg     Config
	logger  zerolog.Logger
	limiter *rate.Limiter

	// stream is the SDK call, replaceable in tests.
	stream streamFunc
}

// New builds a Client. A missing API key is a configuration error, surfaced
// at startup rather than on the first tick.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key not set", ErrConfig)
	}
	cfg = cfg.withDefaults()

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	c := newClient(cfg)
	c.stream = gc.Models.GenerateContentStream
	return c, nil
}

func newClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.PerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), 1)
	}
	return &Client{
		cfg:     cfg,
		logger:  log.WithComponent("vision"),
		limiter: limiter,
	}
}

// Analyze submits the image and the SOP prompt, constrained by schema, and
// returns the schema-shaped JSON result.
func (c *Client) Analyze(ctx context.Context, imagePath, prompt string, schema *Schema) (json.RawMessage, error) {
	if schema != nil {
		if err := schema.Validate(); err != nil {
			return nil, err
		}
	}

	data, mime, err := readImage(imagePath)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(c.cfg.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if schema != nil {
		genCfg.ResponseSchema = schema.Translate()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var sb strings.Builder
	for resp, err := range c.stream(callCtx, c.cfg.Model, contents, genCfg) {
		if err != nil {
			return nil, c.classify(err)
		}
		sb.WriteString(resp.Text())
	}

	raw := sb.String()
	c.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(raw)).
		Msg("vision response accumulated")

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		requestsTotal.WithLabelValues("parse_error").Inc()
		c.logger.Error().Err(err).Str("raw", raw).Msg("model response was not valid JSON")
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if schema != nil {
		if err := schema.CheckOutput(value); err != nil {
			requestsTotal.WithLabelValues("shape_error").Inc()
			return nil, err
		}
	}

	requestsTotal.WithLabelValues("ok").Inc()
	return json.RawMessage(raw), nil
}

func (c *Client) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		requestsTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	case strings.Contains(strings.ToLower(err.Error()), "deprecated"):
		requestsTotal.WithLabelValues("config_error").Inc()
		return fmt.Errorf("%w: model %s is deprecated: %v", ErrConfig, c.cfg.Model, err)
	default:
		requestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrAnalysis, err)
	}
}

// readImage loads the file and sniffs its MIME type, rejecting anything
// outside the supported raster formats.
func readImage(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- session-owned frame path
	if err != nil {
		return nil, "", fmt.Errorf("%w: read image: %v", ErrAnalysis, err)
	}
	mime := http.DetectContentType(data)
	if _, ok := supportedMIMETypes[mime]; !ok {
		return nil, "", fmt.Errorf("%w: unsupported image type %q for %s", ErrAnalysis, mime, path)
	}
	return data, mime, nil
}
