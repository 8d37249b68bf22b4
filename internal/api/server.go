// Package api provides the HTTP surface for the economy engine: reward
// caller endpoints (emit, credit, debit) and the operator/reporting surface
// (balances, ledger, daily counters, economy configuration).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aibarena/aibarena/internal/app/economy"
)

// Server is the economy HTTP API server.
type Server struct {
	economy        *EconomyAPI
	metricsEnabled bool
}

// NewServer creates a new API server around the economy engine.
func NewServer(engine *economy.Engine) *Server {
	return &Server{economy: &EconomyAPI{engine: engine}}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Reward caller endpoints. Callers must retry ambiguous failures with
	// the identical source_type/source_id pair.
	r.Route("/api/economy", func(r chi.Router) {
		r.Post("/emit", s.economy.HandleEmit)
		r.Post("/credit", s.economy.HandleCredit)
		r.Post("/debit", s.economy.HandleDebit)
		r.Post("/repair", s.economy.HandleRepair)

		// Operator/reporting surface (read-mostly)
		r.Get("/balance/{telegramID}", s.economy.HandleBalance)
		r.Get("/ledger/{telegramID}", s.economy.HandleLedger)
		r.Get("/counters/{day}", s.economy.HandleCounters)
		r.Get("/config", s.economy.HandleConfigGet)
		r.Put("/config", s.economy.HandleConfigPut)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
