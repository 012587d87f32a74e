// Package router wires the HTTP surface: health/readiness probes,
// Prometheus metrics, the live WebSocket feed, and the v1 download API,
// all behind request-id and structured-logging middleware.
package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/streamctl/api/v1"
	"github.com/tinoosan/streamctl/internal/auth"
	"github.com/tinoosan/streamctl/internal/live"
	"github.com/tinoosan/streamctl/internal/scheduler"
	"github.com/tinoosan/streamctl/internal/telemetry"
)

// New builds the application router. tokens is the bearer-token allow
// list for the v1 API (empty disables auth); hub may be nil when the
// live WebSocket feed is not wired; tel may be nil to disable
// controller-call tracing.
func New(logger *slog.Logger, mgr *scheduler.Manager, tokens []string, hub *live.Hub, tel *telemetry.Telemetry) *mux.Router {
	r := mux.NewRouter()
	h := v1.NewHandler(logger, mgr, tel)

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS).Methods("GET")
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(v1.RequestID)
	api.Use(h.Log)
	api.Use(func(next http.Handler) http.Handler { return auth.Middleware(tokens, next) })

	api.HandleFunc("/downloads", h.ListDownloads).Methods("GET")
	api.HandleFunc("/downloads", h.AddDownload).Methods("POST")
	api.HandleFunc("/downloads/start", h.StartDownloads).Methods("POST")
	api.HandleFunc("/downloads/stop", h.StopDownloads).Methods("POST")
	api.HandleFunc("/downloads/{id}", h.GetDownload).Methods("GET")
	api.HandleFunc("/downloads/{id}", h.RemoveDownload).Methods("DELETE")
	api.HandleFunc("/downloads/{id}/start", h.StartDownload).Methods("POST")
	api.HandleFunc("/downloads/{id}/stop", h.StopDownload).Methods("POST")
	api.HandleFunc("/requirements", h.SetRequirements).Methods("PUT")

	return r
}
