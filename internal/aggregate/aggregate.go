// Package aggregate derives display statistics from a window of points.
// Every function here is pure.
package aggregate

import (
	"math"
	"time"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// Snapshot summarizes a most-recent-first window of points.
type Snapshot struct {
	TotalEnergy        float64 `json:"total_energy"`
	AverageTemperature Stat    `json:"average_temperature"`
	ActiveDeviceCount  int     `json:"active_device_count"`
	LatestTimestamp    Instant `json:"latest_timestamp"`
	PointCount         int     `json:"point_count"`
}

// Aggregate computes a Snapshot. points must be ordered most-recent-first
// as returned by the store; devices is the resolved device set, which may
// include devices with no points in the window.
func Aggregate(points []telemetry.Point, devices []device.Device) Snapshot {
	var (
		total    float64
		tempSum  float64
		tempSeen int
	)
	for _, p := range points {
		total += p.EnergyUsage.Or(0)
		if v, ok := p.Temperature.Get(); ok {
			tempSum += v
			tempSeen++
		}
	}

	snap := Snapshot{
		TotalEnergy:        round2(total),
		AverageTemperature: Unavailable(),
		ActiveDeviceCount:  countDistinct(devices),
		PointCount:         len(points),
	}
	if tempSeen > 0 {
		snap.AverageTemperature = Available(tempSum / float64(tempSeen))
	}
	if len(points) > 0 {
		snap.LatestTimestamp = At(points[0].Timestamp)
	}

	return snap
}

func countDistinct(devices []device.Device) int {
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		seen[d.ID] = struct{}{}
	}
	return len(seen)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LatestByDevice returns the first point seen for each device in a
// most-recent-first window.
func LatestByDevice(points []telemetry.Point) map[string]telemetry.Point {
	latest := make(map[string]telemetry.Point)
	for _, p := range points {
		if _, ok := latest[p.DeviceID]; !ok {
			latest[p.DeviceID] = p
		}
	}
	return latest
}

// Window returns the oldest instant covered by period ending at now.
func Window(period Period, now time.Time) time.Time {
	return now.Add(-period.Duration())
}
