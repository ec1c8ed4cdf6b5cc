package api

import (
	"net/http"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/ingest"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	respondJSON(w, status, errorBody{Detail: detail})
}

// respondError maps a coded error onto a status code. Details of server
// side failures are logged, not returned.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	detail := errors.Detail(err)

	if status >= http.StatusInternalServerError {
		logger.Error().
			Err(err).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		if status == http.StatusInternalServerError {
			detail = "Internal server error"
		}
	}

	respondDetail(w, status, detail)
}

func statusOf(err error) int {
	switch {
	case ingest.IsValidation(err),
		errors.HasCode(err, ErrInvalidQuery),
		errors.HasCode(err, ErrInvalidBody),
		errors.HasCode(err, device.ErrInvalidRegistration),
		errors.HasCode(err, errors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.HasCode(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.HasCode(err, errors.ErrForbidden):
		return http.StatusForbidden
	case errors.HasCode(err, errors.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.HasCode(err, device.ErrAlreadyRegistered),
		errors.HasCode(err, telemetry.ErrDuplicatePoint):
		return http.StatusConflict
	case errors.HasCode(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New().WithMessage(ErrInvalidBody, "Request body must be a valid JSON object")
	}
	return nil
}
