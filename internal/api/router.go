// Package api exposes the telemetry service over HTTP.
package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/telemetryd/internal/auth"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/ingest"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	store    telemetry.Store
	registry device.Registry
	ingest   *ingest.Service
	tokens   *auth.Manager
	cfg      Config
	log      logger.Logger
	now      func() time.Time
}

func NewHandler(store telemetry.Store, registry device.Registry, tokens *auth.Manager, cfg Config, log logger.Logger) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		ingest:   ingest.New(store, log),
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Routes builds the HTTP handler.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(h.cfg.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(h.cfg.RateLimit))
		r.Use(h.tokens.Authenticate)

		r.Route("/telemetry", func(r chi.Router) {
			r.Post("/", h.IngestTelemetry)
			r.Get("/", h.QueryTelemetry)
			r.Get("/devices/summary", h.DevicesSummary)
			r.Get("/{device_id}/analytics", h.DeviceAnalytics)
			r.Get("/{device_id}/health", h.DeviceHealth)
		})

		r.Get("/devices", h.ListDevices)
		r.Post("/devices", h.RegisterDevice)
	})

	return r
}
