package device

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// Status is the coarse liveness of a device.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusUnknown  Status = "unknown"
)

const (
	DefaultName     = "Unknown Device"
	DefaultType     = "Smart Device"
	DefaultLocation = "Unknown Location"
)

// Device is a known or inferred device. Synthesized devices are inferred
// from telemetry and never come from the registry.
type Device struct {
	ID          string    `json:"device_id"`
	Name        string    `json:"device_name"`
	Type        string    `json:"device_type"`
	Location    string    `json:"location"`
	Status      Status    `json:"status"`
	Owner       string    `json:"owner,omitempty"`
	Synthesized bool      `json:"synthesized"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary is a declared device joined with its most recent point.
type Summary struct {
	Device
	LatestEnergyUsage telemetry.Reading `json:"latest_energy_usage"`
	LastUpdate        *time.Time        `json:"last_update"`
}

// Registration declares a device for an owner.
type Registration struct {
	DeviceID string `json:"device_id" validate:"required,max=128,deviceid"`
	Name     string `json:"device_name" validate:"max=256"`
	Type     string `json:"device_type" validate:"max=128"`
	Location string `json:"location" validate:"max=256"`
}

// Registry holds the devices each owner has declared.
type Registry interface {
	Register(ctx context.Context, owner string, reg Registration) (Device, error)
	List(ctx context.Context, owner string) ([]Device, error)
	Get(ctx context.Context, owner, deviceID string) (Device, error)
	Summaries(ctx context.Context, owner string) ([]Summary, error)
}
