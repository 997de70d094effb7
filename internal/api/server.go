// Package api is the HTTP and WebSocket control surface: workflow schemas,
// session lifecycle, batch control and live state, events and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/simplui/simplui/internal/catalog"
	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/storage/postgres"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// EngineChecker reports whether the generation engine is reachable.
type EngineChecker interface {
	CheckConnection(ctx context.Context) bool
}

// EventStore serves persisted events of a session.
type EventStore interface {
	QuerySession(ctx context.Context, sessionID string, limit int) ([]postgres.EventRow, error)
}

type Server struct {
	sessions *orchestrator.Registry
	catalog  *catalog.Catalog
	engine   EngineChecker
	store    EventStore
	gatherer prometheus.Gatherer
	creds    Credentials
	tls      TLSFiles
	ready    *Readiness
	logger   *zap.Logger
}

type Option func(*Server)

func WithEngineChecker(e EngineChecker) Option { return func(s *Server) { s.engine = e } }

func WithEventStore(es EventStore) Option { return func(s *Server) { s.store = es } }

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

func WithCredentials(c Credentials) Option { return func(s *Server) { s.creds = c } }

func WithTLS(t TLSFiles) Option { return func(s *Server) { s.tls = t } }

func WithReadiness(r *Readiness) Option { return func(s *Server) { s.ready = r } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

func NewServer(sessions *orchestrator.Registry, cat *catalog.Catalog, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		catalog:  cat,
		gatherer: prometheus.DefaultGatherer,
		ready:    NewReadiness(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	c := s.creds
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", s.metricsHandler())

	mux.HandleFunc("GET /events", c.viewer(eventsHandler))
	mux.HandleFunc("GET /ws/events", c.viewer(s.wsEventsHandler))

	mux.HandleFunc("GET /workflows", c.viewer(s.listWorkflowsHandler))
	mux.HandleFunc("GET /workflows/{name}/schema", c.viewer(s.schemaHandler))

	mux.HandleFunc("POST /sessions", c.admin(s.createSessionHandler))
	mux.HandleFunc("GET /sessions/{id}", c.viewer(s.sessionStateHandler))
	mux.HandleFunc("DELETE /sessions/{id}", c.admin(s.closeSessionHandler))
	mux.HandleFunc("POST /sessions/{id}/generate", c.admin(s.generateHandler))
	mux.HandleFunc("POST /sessions/{id}/skip", c.admin(s.skipHandler))
	mux.HandleFunc("POST /sessions/{id}/stop", c.admin(s.stopHandler))
	mux.HandleFunc("GET /sessions/{id}/images/{n}", c.viewer(s.imageHandler))
	mux.HandleFunc("GET /sessions/{id}/events", c.viewer(s.sessionEventsHandler))
	mux.HandleFunc("GET /sessions/{id}/ws", c.viewer(s.wsSessionHandler))
	return mux
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	tlsCfg, err := s.tls.Load()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr), zap.Bool("tls", tlsCfg != nil),
			zap.Bool("auth", s.creds.Enabled()))
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	events.CloseAllSubscribers()
	s.sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "simplui",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: msg})
}
