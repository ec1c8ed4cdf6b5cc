package api

import (
	"net/http"

	"codeberg.org/mutker/telemetryd/internal/auth"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/validation"
)

type summaryResponse struct {
	Owner         string           `json:"user_id"`
	TotalDevices  int              `json:"total_devices"`
	ActiveDevices int              `json:"active_devices"`
	Devices       []device.Summary `json:"devices"`
}

func (h *Handler) DevicesSummary(w http.ResponseWriter, r *http.Request) {
	owner := auth.Subject(r.Context())

	summaries, err := h.registry.Summaries(r.Context(), owner)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := summaryResponse{Owner: owner, TotalDevices: len(summaries), Devices: summaries}
	for _, s := range summaries {
		if s.Status == device.StatusActive {
			resp.ActiveDevices++
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.List(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var reg device.Registration
	if err := decodeBody(w, r, &reg); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validation.Struct(device.ErrInvalidRegistration, &reg); err != nil {
		respondError(w, r, err)
		return
	}

	d, err := h.registry.Register(r.Context(), auth.Subject(r.Context()), reg)
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.log.Info().
		Str("device_id", d.ID).
		Str("owner", d.Owner).
		Msg("Device registered")

	respondJSON(w, http.StatusCreated, d)
}
