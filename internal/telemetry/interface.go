package telemetry

import (
	"context"
	"time"
)

// Store is the append-only record of device samples.
type Store interface {
	Append(ctx context.Context, point Point) (Point, error)
	Query(ctx context.Context, q Query) ([]Point, error)
	Since(ctx context.Context, deviceID, owner string, since time.Time) ([]Point, error)
	CountSince(ctx context.Context, deviceID string, since time.Time) (int, error)
	CountErrors(ctx context.Context, deviceID string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// StatusActive is the status of a point reported by a healthy device.
// Any other status counts as an error report.
const StatusActive = "active"

// Point is one timestamped sample from a device. Points are immutable
// once stored.
type Point struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Owner       string    `json:"owner,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	EnergyUsage Reading   `json:"energy_usage"`
	Voltage     Reading   `json:"voltage"`
	Current     Reading   `json:"current"`
	PowerFactor Reading   `json:"power_factor"`
	Temperature Reading   `json:"temperature"`
	Humidity    Reading   `json:"humidity"`
}

// Query selects a most-recent-first window. Empty DeviceID or Owner
// match every device or owner.
type Query struct {
	DeviceID string
	Owner    string
	Limit    int
}
