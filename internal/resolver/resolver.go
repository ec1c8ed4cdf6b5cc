// Package resolver decides which devices a viewer has, falling back from
// the registry to telemetry-derived sources.
package resolver

import (
	"context"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
)

const DefaultWindowLimit = 100

const (
	sourceDeclared = "declared"
	sourceSummary  = "summary"
	sourceWindow   = "window"
)

type Config struct {
	// BackstopEmpty lets synthesis run when the declared source succeeds
	// with no devices. Otherwise an empty declaration is final.
	BackstopEmpty bool
	// WindowLimit is the number of recent points synthesis looks at.
	WindowLimit int
}

func DefaultConfig() Config {
	return Config{WindowLimit: DefaultWindowLimit}
}

type Resolver struct {
	declared DeclaredSource
	summary  SummarySource
	window   WindowSource
	cfg      Config
	log      logger.Logger
}

// New builds a Resolver. Any source may be nil, in which case it counts
// as failed.
func New(declared DeclaredSource, summary SummarySource, window WindowSource, cfg Config, log logger.Logger) *Resolver {
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = DefaultWindowLimit
	}
	return &Resolver{
		declared: declared,
		summary:  summary,
		window:   window,
		cfg:      cfg,
		log:      log,
	}
}

// Resolve returns the viewer's devices. Source failures are logged and
// fall through to the next source; if every source fails the result is
// an empty list. The only errors returned are authentication failures
// and context cancellation, which end resolution immediately.
func (r *Resolver) Resolve(ctx context.Context, viewer string) ([]device.Device, error) {
	declared, err := r.fromDeclared(ctx, viewer)
	switch {
	case err == nil && len(declared) > 0:
		r.record(sourceDeclared, "hit")
		return declared, nil
	case err == nil:
		r.record(sourceDeclared, "empty")
		if !r.cfg.BackstopEmpty {
			return []device.Device{}, nil
		}
		r.record(sourceSummary, "skipped")
	default:
		if r.fatal(ctx, err) {
			return nil, err
		}
		r.failed(sourceDeclared, viewer, err)

		devices, err := r.fromSummary(ctx, viewer)
		switch {
		case err == nil && len(devices) > 0:
			r.record(sourceSummary, "hit")
			return devices, nil
		case err == nil:
			r.record(sourceSummary, "empty")
		default:
			if r.fatal(ctx, err) {
				return nil, err
			}
			r.failed(sourceSummary, viewer, err)
		}
	}

	devices, err := r.fromWindow(ctx, viewer)
	if err != nil {
		if r.fatal(ctx, err) {
			return nil, err
		}
		r.failed(sourceWindow, viewer, err)
		return []device.Device{}, nil
	}
	if len(devices) == 0 {
		r.record(sourceWindow, "empty")
	} else {
		r.record(sourceWindow, "hit")
	}
	return devices, nil
}

func (r *Resolver) fromDeclared(ctx context.Context, viewer string) ([]device.Device, error) {
	if r.declared == nil {
		return nil, errors.New().WithMessage(errors.ErrNotImplemented, "no declared device source")
	}
	return r.declared.Declared(ctx, viewer)
}

func (r *Resolver) fromSummary(ctx context.Context, viewer string) ([]device.Device, error) {
	if r.summary == nil {
		return nil, errors.New().WithMessage(errors.ErrNotImplemented, "no device summary source")
	}
	summaries, err := r.summary.Summaries(ctx, viewer)
	if err != nil {
		return nil, err
	}
	devices := make([]device.Device, len(summaries))
	for i, s := range summaries {
		devices[i] = s.Device
	}
	return devices, nil
}

func (r *Resolver) fromWindow(ctx context.Context, viewer string) ([]device.Device, error) {
	if r.window == nil {
		return nil, errors.New().WithMessage(errors.ErrNotImplemented, "no telemetry window source")
	}
	points, err := r.window.Window(ctx, viewer, r.cfg.WindowLimit)
	if err != nil {
		return nil, err
	}

	devices := make([]device.Device, 0)
	seen := make(map[string]struct{})
	for _, p := range points {
		if _, ok := seen[p.DeviceID]; ok {
			continue
		}
		seen[p.DeviceID] = struct{}{}
		devices = append(devices, device.Synthesize(p.DeviceID))
	}
	return devices, nil
}

func (r *Resolver) failed(source, viewer string, err error) {
	r.record(source, "error")
	r.log.Warn().
		Err(err).
		Str("source", source).
		Str("viewer", viewer).
		Msg("Device source failed, falling back")
}

func (r *Resolver) record(source, outcome string) {
	metrics.ResolverSourceResults.WithLabelValues(source, outcome).Inc()
}

func (r *Resolver) fatal(ctx context.Context, err error) bool {
	return errors.HasCode(err, errors.ErrUnauthorized) || ctx.Err() != nil
}
