package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness tracks the optional dependencies reported on /ready.
type Readiness struct {
	mu                sync.RWMutex
	startTime         time.Time
	mqttEnabled       bool
	mqttConnected     bool
	postgresEnabled   bool
	postgresConnected bool
}

func NewReadiness() *Readiness {
	return &Readiness{startTime: time.Now()}
}

// SetMQTT records the MQTT bridge state.
func (r *Readiness) SetMQTT(enabled, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mqttEnabled, r.mqttConnected = enabled, connected
}

// SetPostgres records the event store state.
func (r *Readiness) SetPostgres(enabled, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postgresEnabled, r.postgresConnected = enabled, connected
}

type ReadyResponse struct {
	Ready             bool    `json:"ready"`
	EngineReachable   bool    `json:"engine_reachable"`
	MQTTConnected     *bool   `json:"mqtt_connected,omitempty"`
	PostgresConnected *bool   `json:"postgres_connected,omitempty"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// readyHandler reports 200 when the engine and every enabled dependency are
// reachable, 503 otherwise.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := ReadyResponse{EngineReachable: s.engine != nil && s.engine.CheckConnection(ctx)}
	ready := resp.EngineReachable

	s.ready.mu.RLock()
	resp.UptimeSeconds = time.Since(s.ready.startTime).Seconds()
	if s.ready.mqttEnabled {
		v := s.ready.mqttConnected
		resp.MQTTConnected = &v
		ready = ready && v
	}
	if s.ready.postgresEnabled {
		v := s.ready.postgresConnected
		resp.PostgresConnected = &v
		ready = ready && v
	}
	s.ready.mu.RUnlock()

	resp.Ready = ready
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}
