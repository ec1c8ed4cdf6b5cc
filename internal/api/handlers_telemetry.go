package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/auth"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/ingest"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"codeberg.org/mutker/telemetryd/internal/validation"
	"github.com/go-chi/chi/v5"
)

const uptimeWindow = 24 * time.Hour

type telemetryQuery struct {
	DeviceID string `query:"device_id" validate:"max=128"`
	Limit    int    `query:"limit" validate:"min=1"`
}

func (h *Handler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var candidate ingest.Candidate
	if err := decodeBody(w, r, &candidate); err != nil {
		respondError(w, r, err)
		return
	}

	point, err := h.ingest.Ingest(r.Context(), auth.Subject(r.Context()), candidate)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, point)
}

func (h *Handler) QueryTelemetry(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseTelemetryQuery(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	points, err := h.store.Query(r.Context(), telemetry.Query{
		DeviceID: q.DeviceID,
		Owner:    auth.Subject(r.Context()),
		Limit:    q.Limit,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, points)
}

func (h *Handler) parseTelemetryQuery(r *http.Request) (telemetryQuery, error) {
	errFactory := errors.New()
	values := r.URL.Query()

	q := telemetryQuery{DeviceID: values.Get("device_id"), Limit: h.cfg.DefaultLimit}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, errFactory.WithMessage(ErrInvalidQuery, "limit must be an integer")
		}
		q.Limit = limit
	}

	if err := validation.Struct(ErrInvalidQuery, &q); err != nil {
		return q, err
	}
	if q.Limit > h.cfg.MaxLimit {
		return q, errFactory.WithMessage(ErrInvalidQuery, fmt.Sprintf("limit must be at most %d", h.cfg.MaxLimit))
	}

	return q, nil
}

func (h *Handler) DeviceAnalytics(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	period := aggregate.ParsePeriod(r.URL.Query().Get("period"))
	now := h.now().UTC()

	points, err := h.store.Since(r.Context(), deviceID, auth.Subject(r.Context()), aggregate.Window(period, now))
	if err != nil {
		respondError(w, r, err)
		return
	}

	analytics, ok := aggregate.Analyze(deviceID, period, points, now, h.cfg.Pricing)
	if !ok {
		respondDetail(w, http.StatusNotFound, "No telemetry data found for device "+deviceID)
		return
	}

	respondJSON(w, http.StatusOK, analytics)
}

func (h *Handler) DeviceHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := chi.URLParam(r, "device_id")
	owner := auth.Subject(ctx)
	now := h.now().UTC()

	latest, err := h.store.Query(ctx, telemetry.Query{DeviceID: deviceID, Owner: owner, Limit: 1})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(latest) == 0 {
		respondDetail(w, http.StatusNotFound, "No telemetry data found for device "+deviceID)
		return
	}

	recent, err := h.store.CountSince(ctx, deviceID, now.Add(-uptimeWindow))
	if err != nil {
		respondError(w, r, err)
		return
	}
	failures, err := h.store.CountErrors(ctx, deviceID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	d, err := h.registry.Get(ctx, owner, deviceID)
	if err != nil {
		if !errors.HasCode(err, device.ErrNotFound) {
			respondError(w, r, err)
			return
		}
		d = device.Synthesize(deviceID)
	}

	respondJSON(w, http.StatusOK, health.Classify(health.Input{
		Device:      d,
		Latest:      &latest[0],
		RecentCount: recent,
		ErrorCount:  failures,
		Now:         now,
	}, h.cfg.Thresholds))
}
