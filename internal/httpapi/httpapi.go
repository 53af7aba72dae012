// Package httpapi exposes rules, tabs, picker events and snapshots over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/zapelm/coordinator"
	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/internal/render"
	"github.com/hazyhaar/zapelm/page"
	"github.com/hazyhaar/zapelm/rule"
)

// ErrNoPages is returned by tab routes when the server runs without a page
// manager.
var ErrNoPages = errors.New("httpapi: page manager not configured")

// Pages opens and tracks mirrored pages. Unknown tab ids are reported with
// coordinator.ErrUnknownTab.
type Pages interface {
	Open(ctx context.Context, rawURL, mode string) (*page.Page, error)
	Close(tabID string) error
	Get(tabID string) (*page.Page, bool)
}

// Config wires the server.
type Config struct {
	Coordinator *coordinator.Coordinator
	Pages       Pages // optional
	Renderer    *render.Renderer
	Metrics     http.Handler // optional, served on /metrics
	Logger      *slog.Logger
	Timeout     time.Duration // per request, default 30s
	MaxBody     int64         // JSON request body limit, default 4MB
}

type server struct {
	coord    *coordinator.Coordinator
	pages    Pages
	renderer *render.Renderer
	logger   *slog.Logger
}

// New builds the router.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 4 << 20
	}
	s := &server{
		coord:    cfg.Coordinator,
		pages:    cfg.Pages,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(maxBody(cfg.MaxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Timeout))

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.exportRules)
			r.Put("/", s.importRules)
			r.Get("/{hostname}", s.listRules)
			r.Post("/{hostname}", s.addRule)
			r.Patch("/{hostname}/{id}", s.updateRule)
			r.Delete("/{hostname}/{id}", s.deleteRule)
		})

		r.Post("/domains/{hostname}/enabled", s.toggleDomain)
		r.Post("/domains/{hostname}/refresh", s.refreshDomain)

		r.Route("/tabs", func(r chi.Router) {
			r.Get("/", s.listTabs)
			r.Post("/", s.openTab)
			r.Get("/{tabID}", s.tabStatus)
			r.Delete("/{tabID}", s.closeTab)
			r.Post("/{tabID}/activate", s.activateTab)
			r.Post("/{tabID}/events", s.dispatchEvent)
			r.Get("/{tabID}/snapshot", s.snapshot)
		})

		r.Post("/commands/{name}", s.command)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rule.ErrNotFound),
		errors.Is(err, coordinator.ErrUnknownTab):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrNoActiveTab):
		return http.StatusConflict
	case errors.Is(err, rule.ErrEmptySelector),
		errors.Is(err, rule.ErrUnknownAction),
		errors.Is(err, rule.ErrUnknownApplyMode),
		errors.Is(err, dom.ErrInvalidSelector),
		errors.Is(err, render.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, page.ErrNoTarget):
		return http.StatusUnprocessableEntity
	case errors.Is(err, page.ErrClosed):
		return http.StatusGone
	case errors.Is(err, ErrNoPages):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("httpapi: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}
