// Package api hosts the bridge's HTTP surface: the dashboard WebSocket
// endpoint, the liveness report and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the HTTP router. ws serves the dashboard protocol;
// health reports operational status.
func NewRouter(logger zerolog.Logger, ws http.Handler, health *HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", health.ServeHTTP)
	r.Handle("/ws", ws)

	return r
}
