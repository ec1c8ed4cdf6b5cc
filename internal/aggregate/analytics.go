package aggregate

import (
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// Period selects the analytics window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

const day = 24 * time.Hour

// ParsePeriod maps a request value onto a Period; anything unrecognized
// is weekly.
func ParsePeriod(s string) Period {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly:
		return p
	default:
		return PeriodWeekly
	}
}

func (p Period) Duration() time.Duration {
	switch p {
	case PeriodDaily:
		return day
	case PeriodMonthly:
		return 30 * day
	case PeriodYearly:
		return 365 * day
	default:
		return 7 * day
	}
}

// Pricing converts energy totals into cost and carbon estimates.
type Pricing struct {
	PricePerKWh  float64
	CarbonPerKWh float64
}

func DefaultPricing() Pricing {
	return Pricing{PricePerKWh: 0.15, CarbonPerKWh: 0.4}
}

// Analytics describes one device's energy use over a period.
type Analytics struct {
	DeviceID        string    `json:"device_id"`
	Period          Period    `json:"period"`
	AverageUsage    float64   `json:"average_usage"`
	PeakUsage       float64   `json:"peak_usage"`
	MinUsage        float64   `json:"min_usage"`
	TotalEnergy     float64   `json:"total_energy"`
	TotalReadings   int       `json:"total_readings"`
	CostEstimate    float64   `json:"cost_estimate"`
	CarbonFootprint float64   `json:"carbon_footprint"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}

// Analyze computes period analytics for deviceID over points. Points of
// other devices or older than the period are ignored. ok is false when no
// point in the window reports energy usage.
func Analyze(deviceID string, period Period, points []telemetry.Point, now time.Time, pricing Pricing) (Analytics, bool) {
	start := Window(period, now)

	a := Analytics{
		DeviceID:    deviceID,
		Period:      period,
		PeakUsage:   math.Inf(-1),
		MinUsage:    math.Inf(1),
		PeriodStart: start,
		PeriodEnd:   now,
	}

	var measured int
	for _, p := range points {
		if p.DeviceID != deviceID || p.Timestamp.Before(start) {
			continue
		}
		a.TotalReadings++

		v, ok := p.EnergyUsage.Get()
		if !ok {
			continue
		}
		measured++
		a.TotalEnergy += v
		a.PeakUsage = math.Max(a.PeakUsage, v)
		a.MinUsage = math.Min(a.MinUsage, v)
	}

	if measured == 0 {
		return Analytics{DeviceID: deviceID, Period: period, PeriodStart: start, PeriodEnd: now}, false
	}

	a.AverageUsage = round2(a.TotalEnergy / float64(measured))
	a.TotalEnergy = round2(a.TotalEnergy)
	a.CostEstimate = round2(a.TotalEnergy * pricing.PricePerKWh)
	a.CarbonFootprint = round2(a.TotalEnergy * pricing.CarbonPerKWh)

	return a, true
}
