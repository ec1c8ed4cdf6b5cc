package telemetry

import (
	"fmt"
	"strings"
	"unicode"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

const (
	// MaxDeviceIDLength bounds device and point identifiers.
	MaxDeviceIDLength = 128
	MaxStatusLength   = 32

	// ReservedIDChars cannot appear in a device id, which is used as a
	// URL path segment.
	ReservedIDChars = "/?#%\\"
)

// ValidDeviceID reports whether id can be used as a path segment.
func ValidDeviceID(id string) bool {
	if strings.ContainsAny(id, ReservedIDChars) {
		return false
	}
	return strings.IndexFunc(id, unicode.IsControl) < 0
}

// Validate checks a candidate point before it is persisted. The returned
// error's message is suitable for returning to the producer verbatim.
func Validate(p Point) error {
	errFactory := errors.New()

	if p.DeviceID == "" {
		return errFactory.WithMessage(ErrInvalidPoint, "device_id is required")
	}
	if len(p.DeviceID) > MaxDeviceIDLength {
		return errFactory.WithMessage(ErrInvalidPoint,
			fmt.Sprintf("device_id must be at most %d characters", MaxDeviceIDLength))
	}
	if !ValidDeviceID(p.DeviceID) {
		return errFactory.WithMessage(ErrInvalidPoint,
			"device_id must not contain control characters or any of "+ReservedIDChars)
	}
	if len(p.ID) > MaxDeviceIDLength {
		return errFactory.WithMessage(ErrInvalidPoint,
			fmt.Sprintf("id must be at most %d characters", MaxDeviceIDLength))
	}
	if len(p.Status) > MaxStatusLength {
		return errFactory.WithMessage(ErrInvalidPoint,
			fmt.Sprintf("status must be at most %d characters", MaxStatusLength))
	}

	fields := []struct {
		name    string
		reading Reading
	}{
		{"energy_usage", p.EnergyUsage},
		{"voltage", p.Voltage},
		{"current", p.Current},
		{"power_factor", p.PowerFactor},
		{"temperature", p.Temperature},
		{"humidity", p.Humidity},
	}
	for _, f := range fields {
		if !f.reading.finite() {
			return errFactory.WithMessage(ErrInvalidPoint, f.name+" must be a finite number")
		}
	}

	if v, ok := p.EnergyUsage.Get(); ok && v < 0 {
		return errFactory.WithMessage(ErrInvalidPoint,
			fmt.Sprintf("energy_usage must be non-negative, got %v", v))
	}

	return nil
}
