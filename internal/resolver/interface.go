package resolver

import (
	"context"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// DeclaredSource lists the devices a viewer has registered.
type DeclaredSource interface {
	Declared(ctx context.Context, viewer string) ([]device.Device, error)
}

// SummarySource lists the viewer's devices as seen by the telemetry side.
type SummarySource interface {
	Summaries(ctx context.Context, viewer string) ([]device.Summary, error)
}

// WindowSource returns the most recent points visible to the viewer,
// most-recent-first.
type WindowSource interface {
	Window(ctx context.Context, viewer string, limit int) ([]telemetry.Point, error)
}

type DeclaredFunc func(ctx context.Context, viewer string) ([]device.Device, error)

func (f DeclaredFunc) Declared(ctx context.Context, viewer string) ([]device.Device, error) {
	return f(ctx, viewer)
}

type SummaryFunc func(ctx context.Context, viewer string) ([]device.Summary, error)

func (f SummaryFunc) Summaries(ctx context.Context, viewer string) ([]device.Summary, error) {
	return f(ctx, viewer)
}

type WindowFunc func(ctx context.Context, viewer string, limit int) ([]telemetry.Point, error)

func (f WindowFunc) Window(ctx context.Context, viewer string, limit int) ([]telemetry.Point, error) {
	return f(ctx, viewer, limit)
}
