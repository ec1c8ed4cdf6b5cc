// Package health classifies a device from its most recent telemetry.
package health

import (
	"math"
	"time"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

const (
	RecommendStale        = "Device has not reported recently. Check network connection."
	RecommendConnectivity = "Device connectivity issues detected. Check network connection."
	RecommendEnergy       = "High energy consumption detected. Consider optimization."
	RecommendTemperature  = "Device temperature is high. Check ventilation and placement."
	RecommendPowerFactor  = "Low power factor detected. Consider power factor correction."
	RecommendMaintenance  = "Multiple errors detected. Device may require maintenance."

	// Below this uptime a device is considered to need attention.
	minUptimePercent = 80.0
)

// Thresholds configures classification.
type Thresholds struct {
	StaleAfter         time.Duration
	EnergyCeiling      float64
	TemperatureCeiling float64
	MinPowerFactor     float64
	ExpectedPerDay     int
	// MaxErrors is the number of error reports a device may accumulate
	// before maintenance is recommended.
	MaxErrors int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleAfter:         15 * time.Minute,
		EnergyCeiling:      100,
		TemperatureCeiling: 40,
		MinPowerFactor:     0.85,
		ExpectedPerDay:     24,
		MaxErrors:          5,
	}
}

// Input is everything Classify looks at. Latest is nil when the device
// has never reported; RecentCount is the number of points in the last day
// and ErrorCount the number of points reported with a non-active status.
type Input struct {
	Device      device.Device
	Latest      *telemetry.Point
	RecentCount int
	ErrorCount  int
	Now         time.Time
}

// Status is the classified health of one device.
type Status struct {
	DeviceID         string        `json:"device_id"`
	Status           device.Status `json:"status"`
	LastSeen         *time.Time    `json:"last_seen"`
	UptimePercentage float64       `json:"uptime_percentage"`
	ErrorCount       int           `json:"error_count"`
	MaintenanceDue   bool          `json:"maintenance_due"`
	Recommendations  []string      `json:"recommendations"`
}

// Classify derives a Status. It reads no clock besides in.Now.
func Classify(in Input, th Thresholds) Status {
	s := Status{
		DeviceID:         in.Device.ID,
		Status:           device.StatusActive,
		UptimePercentage: uptime(in.RecentCount, th.ExpectedPerDay),
		ErrorCount:       in.ErrorCount,
		Recommendations:  []string{},
	}

	stale := in.Latest == nil || in.Now.Sub(in.Latest.Timestamp) > th.StaleAfter
	if in.Latest != nil {
		seen := in.Latest.Timestamp
		s.LastSeen = &seen
		if s.DeviceID == "" {
			s.DeviceID = in.Latest.DeviceID
		}
	}

	if stale {
		s.Status = device.StatusInactive
		s.Recommendations = append(s.Recommendations, RecommendStale)
	}
	if s.UptimePercentage < minUptimePercent {
		s.Recommendations = append(s.Recommendations, RecommendConnectivity)
	}
	tooManyErrors := in.ErrorCount > th.MaxErrors
	if tooManyErrors {
		s.Recommendations = append(s.Recommendations, RecommendMaintenance)
	}

	if in.Latest != nil {
		if v, ok := in.Latest.EnergyUsage.Get(); ok && v > th.EnergyCeiling {
			s.Recommendations = append(s.Recommendations, RecommendEnergy)
		}
		if v, ok := in.Latest.Temperature.Get(); ok && v > th.TemperatureCeiling {
			s.Recommendations = append(s.Recommendations, RecommendTemperature)
		}
		if v, ok := in.Latest.PowerFactor.Get(); ok && v < th.MinPowerFactor {
			s.Recommendations = append(s.Recommendations, RecommendPowerFactor)
		}
	}

	s.MaintenanceDue = stale || tooManyErrors || s.UptimePercentage < minUptimePercent

	return s
}

func uptime(recent, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	pct := float64(recent) / float64(expected) * 100
	return math.Round(math.Min(pct, 100)*100) / 100
}
