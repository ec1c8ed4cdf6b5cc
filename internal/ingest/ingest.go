// Package ingest accepts telemetry from producers and writes it to the
// store.
package ingest

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"codeberg.org/mutker/telemetryd/internal/validation"
)

// Candidate is a point as submitted by a producer. Absent metric fields
// stay absent when stored.
type Candidate struct {
	ID          string     `json:"id,omitempty" validate:"omitempty,max=128"`
	DeviceID    string     `json:"device_id" validate:"required,max=128,deviceid"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Status      string     `json:"status,omitempty" validate:"omitempty,max=32"`
	EnergyUsage *float64   `json:"energy_usage" validate:"omitempty,gte=0"`
	Voltage     *float64   `json:"voltage"`
	Current     *float64   `json:"current"`
	PowerFactor *float64   `json:"power_factor"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
}

// Point converts the candidate into a store point owned by owner.
func (c Candidate) Point(owner string) telemetry.Point {
	p := telemetry.Point{
		ID:          c.ID,
		DeviceID:    c.DeviceID,
		Owner:       owner,
		Status:      c.Status,
		EnergyUsage: telemetry.FromPtr(c.EnergyUsage),
		Voltage:     telemetry.FromPtr(c.Voltage),
		Current:     telemetry.FromPtr(c.Current),
		PowerFactor: telemetry.FromPtr(c.PowerFactor),
		Temperature: telemetry.FromPtr(c.Temperature),
		Humidity:    telemetry.FromPtr(c.Humidity),
	}
	if c.Timestamp != nil {
		p.Timestamp = *c.Timestamp
	}
	return p
}

// Service validates candidates and appends them to a store.
type Service struct {
	store telemetry.Store
	log   logger.Logger
}

func New(store telemetry.Store, log logger.Logger) *Service {
	return &Service{store: store, log: log}
}

// Ingest validates c and appends it on behalf of owner. Validation
// failures carry ErrInvalidPayload or telemetry.ErrInvalidPoint and a
// message fit for the producer; nothing is persisted in that case.
func (s *Service) Ingest(ctx context.Context, owner string, c Candidate) (telemetry.Point, error) {
	if err := validation.Struct(ErrInvalidPayload, &c); err != nil {
		metrics.PointsIngested.WithLabelValues("rejected").Inc()
		s.log.Debug().
			Str("device_id", c.DeviceID).
			Str("detail", errors.Detail(err)).
			Msg("Rejected telemetry payload")
		return telemetry.Point{}, err
	}

	point, err := s.store.Append(ctx, c.Point(owner))
	if err != nil {
		if errors.HasCode(err, telemetry.ErrInvalidPoint) || errors.HasCode(err, telemetry.ErrDuplicatePoint) {
			metrics.PointsIngested.WithLabelValues("rejected").Inc()
			return telemetry.Point{}, err
		}
		metrics.PointsIngested.WithLabelValues("failed").Inc()
		s.log.Error().
			Err(err).
			Str("device_id", c.DeviceID).
			Msg("Failed to store telemetry point")
		return telemetry.Point{}, err
	}

	metrics.PointsIngested.WithLabelValues("accepted").Inc()
	s.log.Debug().
		Str("id", point.ID).
		Str("device_id", point.DeviceID).
		Msg("Telemetry point stored")

	return point, nil
}

// IsValidation reports whether err is a rejection of the submitted data
// rather than a storage failure.
func IsValidation(err error) bool {
	return errors.HasCode(err, ErrInvalidPayload) || errors.HasCode(err, telemetry.ErrInvalidPoint)
}
