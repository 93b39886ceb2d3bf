// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/config"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// Kicker wakes the session manager after a new session is created so the
// first claim happens without waiting for the next poll tick.
type Kicker interface {
	Kick()
}

// Server wires HTTP handlers to the frontier store and session manager.
type Server struct {
	router  chi.Router
	store   crawler.FrontierStore
	kicker  Kicker
	idGen   crawler.IDGenerator
	clock   crawler.Clock
	cfg     config.Config
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. metrics is the
// Prometheus handler to mount at /metrics; nil disables the endpoint.
func NewServer(
	store crawler.FrontierStore,
	kicker Kicker,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		kicker:  kicker,
		idGen:   idGen,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if metrics != nil {
		r.Get("/metrics", metrics.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Get("/pages", s.getSessionPages)
				r.Post("/stop", s.stopSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers queries, not that sessions exist.
	if _, err := s.store.ListSessionsByStatus(r.Context(), crawler.SessionStatusRunning); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	ProjectID   string `json:"project_id"`
	SeedURL     string `json:"seed_url"`
	DomainScope string `json:"domain_scope"`
	MaxPages    *int   `json:"max_pages"`
	MaxDepth    *int   `json:"max_depth"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	session, err := s.toSession(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.startSession(r.Context(), session); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.kicker != nil {
		s.kicker.Kick()
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": session.ID})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) getSessionPages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	pages, err := s.store.ListPages(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch session pages")
		return
	}
	s.writeJSON(w, http.StatusOK, crawler.SessionResult{Session: session, Pages: pages})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.store.CompleteSession(r.Context(), sessionID, s.clock.Now()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     string(crawler.SessionStatusCompleted),
	})
}

// toSession validates the request and fills defaults from configuration. The
// domain scope defaults to the seed host, which keeps the crawl on the site
// the caller pointed at.
func (s *Server) toSession(req createSessionRequest) (crawler.CrawlSession, error) {
	seed := strings.TrimSpace(req.SeedURL)
	if seed == "" {
		return crawler.CrawlSession{}, errors.New("seed_url required")
	}
	u, err := url.Parse(seed)
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("seed_url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return crawler.CrawlSession{}, fmt.Errorf("seed_url scheme %q not supported", u.Scheme)
	}
	if u.Hostname() == "" {
		return crawler.CrawlSession{}, errors.New("seed_url must include a host")
	}

	scope := strings.ToLower(strings.TrimSpace(req.DomainScope))
	if scope == "" {
		scope = strings.ToLower(u.Hostname())
	}
	maxPages := valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault)
	maxDepth := valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault)
	if maxPages <= 0 {
		return crawler.CrawlSession{}, errors.New("max_pages must be > 0")
	}
	if maxDepth < 0 {
		return crawler.CrawlSession{}, errors.New("max_depth must be >= 0")
	}

	return crawler.CrawlSession{
		ProjectID:   strings.TrimSpace(req.ProjectID),
		SeedURL:     seed,
		DomainScope: scope,
		MaxPages:    maxPages,
		MaxDepth:    maxDepth,
		Status:      crawler.SessionStatusRunning,
	}, nil
}

// startSession persists the session together with its seed task at depth 0.
func (s *Server) startSession(ctx context.Context, session crawler.CrawlSession) error {
	sessionID, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}
	taskID, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	session.ID = sessionID
	session.CreatedAt = s.clock.Now()

	if err := s.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	seed := crawler.TaskInput{
		ID:            taskID,
		URL:           session.SeedURL,
		NormalizedKey: crawler.NormalizeKey(session.SeedURL),
		Depth:         0,
	}
	if _, err := s.store.InsertTasks(ctx, sessionID, []crawler.TaskInput{seed}); err != nil {
		return fmt.Errorf("insert seed task: %w", err)
	}
	return nil
}

func valueOrDefault(ptr *int, def int) int {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
