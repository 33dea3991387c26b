package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Query defaults for /crawl.
const (
	DefaultPage        = 1
	DefaultNumChapters = 5
)

const livenessMessage = "API is working. Use /crawl?page=1&num_chapters=5"

// Crawler runs one catalog page crawl.
type Crawler interface {
	CrawlPage(ctx context.Context, page, numChapters int) (harvest.CatalogBatchResult, error)
}

// Options tunes the server.
type Options struct {
	// MaxChapters rejects larger num_chapters values with 400. Zero disables the cap.
	MaxChapters int
	// TracerProvider issues request spans; nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// Server wires HTTP handlers to the crawler.
type Server struct {
	router  chi.Router
	crawler Crawler
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawler Crawler, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler: crawler,
		opts:    opts,
		logger:  logger.Named("api"),
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware(tp))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/crawl", s.crawl)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(livenessMessage)); err != nil {
		s.logger.Warn("liveness write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := positiveOrDefault(query.Get("page"), DefaultPage)
	numChapters := positiveOrDefault(query.Get("num_chapters"), DefaultNumChapters)
	if s.opts.MaxChapters > 0 && numChapters > s.opts.MaxChapters {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("num_chapters must be <= %d", s.opts.MaxChapters))
		return
	}

	result, err := s.crawler.CrawlPage(r.Context(), page, numChapters)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("crawl failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Int("page", page),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, errorMessage(page, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) int {
	if errors.Is(err, harvest.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// errorMessage names the catalog page even when err comes from outside the
// orchestrator.
func errorMessage(page int, err error) string {
	var discovery *harvest.DiscoveryError
	if errors.As(err, &discovery) {
		return err.Error()
	}
	return fmt.Sprintf("catalog page %d: %v", page, err)
}

// positiveOrDefault parses a decimal query value, falling back to def when it
// is missing, malformed or not positive.
func positiveOrDefault(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
