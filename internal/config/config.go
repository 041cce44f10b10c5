// Package config loads daemon configuration with precedence ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// Operator surface
	ListenAddr        string `yaml:"listen_addr"`
	LogLevel          string `yaml:"log_level"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// External CRUD service
	APIBaseURL string `yaml:"api_base_url"`

	// Object store
	GCSCredentialsPath string `yaml:"gcs_credentials_path"`
	GCSBucketName      string `yaml:"gcs_bucket_name"`

	// Vision model
	GeminiAPIKey      string        `yaml:"gemini_api_key"`
	GeminiModel       string        `yaml:"gemini_model"`
	GeminiTemperature float64       `yaml:"gemini_temperature"`
	GeminiTimeout     time.Duration `yaml:"gemini_timeout"`
	VisionPerMinute   int           `yaml:"vision_per_minute"`

	// Transcoder
	FFmpegBin         string        `yaml:"ffmpeg_bin"`
	HLSSegmentSeconds int           `yaml:"hls_segment_seconds"`
	HLSWindowSize     int           `yaml:"hls_window_size"`
	RTSPSocketTimeout time.Duration `yaml:"rtsp_socket_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout"`
	ExtractTimeout    time.Duration `yaml:"extract_timeout"`
	StopGrace         time.Duration `yaml:"stop_grace"`

	// Capture pipeline
	GridRows           int    `yaml:"grid_rows"`
	GridCols           int    `yaml:"grid_cols"`
	ScreenshotsPerGrid int    `yaml:"screenshots_per_grid"`
	UploadsDir         string `yaml:"uploads_dir"`

	// Scheduling
	CaptureInterval time.Duration `yaml:"capture_interval"`
	VerifyInterval  time.Duration `yaml:"verify_interval"`
	CatalogTTL      time.Duration `yaml:"catalog_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:         ":8090",
		LogLevel:           "info",
		RequestsPerMinute:  240,
		APIBaseURL:         "http://localhost:8000",
		GeminiModel:        "gemini-2.0-flash",
		GeminiTemperature:  1.0,
		GeminiTimeout:      30 * time.Second,
		VisionPerMinute:    30,
		FFmpegBin:          "ffmpeg",
		HLSSegmentSeconds:  2,
		HLSWindowSize:      5,
		RTSPSocketTimeout:  5 * time.Second,
		VerifyTimeout:      10 * time.Second,
		ExtractTimeout:     5 * time.Second,
		StopGrace:          5 * time.Second,
		GridRows:           2,
		GridCols:           3,
		ScreenshotsPerGrid: 6,
		UploadsDir:         "uploads",
		CaptureInterval:    10 * time.Second,
		VerifyInterval:     60 * time.Second,
		CatalogTTL:         300 * time.Second,
	}
}

// Load resolves the configuration: defaults, then the optional YAML file at
// path, then environment variables on top.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = ParseString("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = ParseString("LOG_LEVEL", c.LogLevel)
	c.RequestsPerMinute = ParseInt("REQUESTS_PER_MINUTE", c.RequestsPerMinute)
	c.APIBaseURL = ParseString("API_BASE_URL", c.APIBaseURL)
	c.GCSCredentialsPath = ParseString("GCS_CREDENTIALS_PATH", c.GCSCredentialsPath)
	c.GCSBucketName = ParseString("GCS_BUCKET_NAME", c.GCSBucketName)
	c.GeminiAPIKey = ParseString("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = ParseString("GEMINI_MODEL_NAME", c.GeminiModel)
	c.GeminiTimeout = ParseDuration("GEMINI_TIMEOUT_SECONDS", c.GeminiTimeout)
	c.VisionPerMinute = ParseInt("VISION_PER_MINUTE", c.VisionPerMinute)
	c.FFmpegBin = ParseString("FFMPEG_BIN", c.FFmpegBin)
	c.HLSSegmentSeconds = ParseInt("HLS_SEGMENT_SECONDS", c.HLSSegmentSeconds)
	c.HLSWindowSize = ParseInt("HLS_WINDOW_SIZE", c.HLSWindowSize)
	c.RTSPSocketTimeout = ParseDuration("RTSP_SOCKET_TIMEOUT", c.RTSPSocketTimeout)
	c.VerifyTimeout = ParseDuration("VERIFY_TIMEOUT", c.VerifyTimeout)
	c.ExtractTimeout = ParseDuration("EXTRACT_TIMEOUT", c.ExtractTimeout)
	c.StopGrace = ParseDuration("STOP_GRACE", c.StopGrace)
	c.GridRows = ParseInt("GRID_ROWS", c.GridRows)
	c.GridCols = ParseInt("GRID_COLS", c.GridCols)
	c.ScreenshotsPerGrid = ParseInt("SCREENSHOTS_PER_GRID", c.ScreenshotsPerGrid)
	c.UploadsDir = ParseString("UPLOADS_DIR", c.UploadsDir)
	c.CaptureInterval = ParseDuration("CAPTURE_INTERVAL", c.CaptureInterval)
	c.VerifyInterval = ParseDuration("VERIFY_INTERVAL", c.VerifyInterval)
	c.CatalogTTL = ParseDuration("STREAMS_CACHE_TTL", c.CatalogTTL)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.GridRows < 1 || c.GridCols < 1 {
		errs = append(errs, fmt.Errorf("grid dimensions must be positive, got %dx%d", c.GridRows, c.GridCols))
	}
	if c.ScreenshotsPerGrid < 1 {
		errs = append(errs, fmt.Errorf("screenshots_per_grid must be positive, got %d", c.ScreenshotsPerGrid))
	}
	if c.HLSSegmentSeconds < 1 {
		errs = append(errs, fmt.Errorf("hls_segment_seconds must be positive, got %d", c.HLSSegmentSeconds))
	}
	if c.HLSWindowSize < 1 {
		errs = append(errs, fmt.Errorf("hls_window_size must be positive, got %d", c.HLSWindowSize))
	}
	if c.CaptureInterval <= 0 || c.VerifyInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url must be set"))
	}
	return errors.Join(errs...)
}

// ValidateCredentials checks the settings that touch external services. It is
// separate from Validate so tests and dry runs can skip it.
func (c *Config) ValidateCredentials() error {
	var errs []error
	if c.GCSBucketName == "" {
		errs = append(errs, errors.New("GCS_BUCKET_NAME must be set"))
	}
	if c.GCSCredentialsPath == "" {
		errs = append(errs, errors.New("GCS_CREDENTIALS_PATH must be set"))
	} else if _, err := os.Stat(c.GCSCredentialsPath); err != nil {
		errs = append(errs, fmt.Errorf("GCS credentials file: %w", err))
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY must be set"))
	}
	return errors.Join(errs...)
}
