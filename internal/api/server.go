// Package api exposes the operator surface: health, metrics, live session
// state and a read-only HLS preview of each stream's rolling buffer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/log"
	"github.com/supervsr/supervsr/internal/stream"
)

// Sessions is the slice of the stream manager the API reads.
type Sessions interface {
	Sessions() []stream.Snapshot
	Dir(id string) (string, bool)
}

// Config tunes the HTTP surface.
type Config struct {
	// RequestsPerMinute bounds each client IP. Zero disables limiting.
	RequestsPerMinute int
}

// Server is the operator HTTP handler set.
type Server struct {
	sessions Sessions
	logger   zerolog.Logger
	router   chi.Router
}

func NewServer(cfg Config, sessions Sessions) *Server {
	s := &Server{
		sessions: sessions,
		logger:   log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(
			cfg.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/hls/{id}/{file}", s.handleHLS)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.Sessions(),
	})
}

// handleHLS serves playlist and segments of a running stream's scratch dir,
// read-only. Only the flat file names ffmpeg produces are reachable.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "file")

	dir, ok := s.sessions.Dir(id)
	if !ok {
		http.Error(w, "stream not running", http.StatusNotFound)
		return
	}
	if file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		http.Error(w, "bad file name", http.StatusBadRequest)
		return
	}
	switch filepath.Ext(file) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	default:
		http.Error(w, "bad file name", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(dir, file))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the server until ctx is canceled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
