// Package api assembles the HTTP surface: the /ws endpoint plus the
// operability side-channels (/api/health, /api/realms, /metrics).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmultiverse/stat7hub/internal/hub"
	"github.com/openmultiverse/stat7hub/internal/orchestrator"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
)

type Server struct {
	lg   *telemetry.Logger
	orch *orchestrator.Orchestrator
	hub  *hub.Hub
}

func NewRouter(lg *telemetry.Logger, orch *orchestrator.Orchestrator, h *hub.Hub, met *telemetry.Metrics) *mux.Router {
	if lg == nil {
		lg = telemetry.Nop
	}
	s := &Server{lg: lg, orch: orch, hub: h}

	r := mux.NewRouter()
	r.Use(s.requestLogging)
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/realms", s.handleRealms).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           h.Status,
		"tick_number":      h.TickNumber,
		"registered_games": h.RegisteredGames,
		"buffered_events":  h.BufferedEvents,
		"uptime_ms":        h.UptimeMS,
		"tick_failures":    h.TickFailures,
		"connections":      s.hub.Connections(),
	})
}

func (s *Server) handleRealms(w http.ResponseWriter, r *http.Request) {
	realms := s.orch.Realms()
	writeJSON(w, http.StatusOK, map[string]any{
		"realms": realms,
		"count":  len(realms),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The WS upgrade hijacks the connection; wrapping its writer breaks
		// the handshake, so it logs through the hub instead.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.lg.Debug("http request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
