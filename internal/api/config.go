package api

import (
	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/health"
)

type Config struct {
	CORSOrigins []string
	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables limiting.
	RateLimit    int
	DefaultLimit int
	MaxLimit     int
	Thresholds   health.Thresholds
	Pricing      aggregate.Pricing
}

func DefaultConfig() Config {
	return Config{
		CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimit:    600,
		DefaultLimit: 50,
		MaxLimit:     1000,
		Thresholds:   health.DefaultThresholds(),
		Pricing:      aggregate.DefaultPricing(),
	}
}
