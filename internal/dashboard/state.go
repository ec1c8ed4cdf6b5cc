package dashboard

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateRefreshing State = "refreshing"
	StateError      State = "error"
)

// Filter narrows what the dashboard shows. An empty DeviceID shows every
// device.
type Filter struct {
	DeviceID string
	Limit    int
}

// View is one consistent render of the dashboard.
type View struct {
	Devices   []device.Device
	Points    []telemetry.Point
	Snapshot  aggregate.Snapshot
	Health    []health.Status
	FetchedAt time.Time
}

// Model is a copy of the dashboard state. View is nil until the first
// successful fetch; Err is the banner error, if any.
type Model struct {
	State      State
	Filter     Filter
	View       *View
	Err        error
	Generation uint64
}
