package dashboard

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/resolver"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const DefaultLimit = 50

// healthConcurrency bounds the per-device health requests of one fetch.
const healthConcurrency = 4

// API is the part of the HTTP client the dashboard reads from.
type API interface {
	Query(ctx context.Context, deviceID string, limit int) ([]telemetry.Point, error)
	Devices(ctx context.Context) ([]device.Device, error)
	DevicesSummary(ctx context.Context) ([]device.Summary, error)
	Health(ctx context.Context, deviceID string) (health.Status, error)
}

// ClientFetcher builds views from a remote telemetryd. The viewer is
// whoever the client's session belongs to.
type ClientFetcher struct {
	api        API
	resolver   *resolver.Resolver
	thresholds health.Thresholds
	now        func() time.Time
}

func NewClientFetcher(api API, thresholds health.Thresholds, log logger.Logger) *ClientFetcher {
	res := resolver.New(
		resolver.DeclaredFunc(func(ctx context.Context, _ string) ([]device.Device, error) {
			return api.Devices(ctx)
		}),
		resolver.SummaryFunc(func(ctx context.Context, _ string) ([]device.Summary, error) {
			return api.DevicesSummary(ctx)
		}),
		resolver.WindowFunc(func(ctx context.Context, _ string, limit int) ([]telemetry.Point, error) {
			return api.Query(ctx, "", limit)
		}),
		resolver.DefaultConfig(),
		log,
	)

	return &ClientFetcher{
		api:        api,
		resolver:   res,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Fetch resolves devices and loads the telemetry window concurrently,
// then derives the snapshot and per-device health.
func (f *ClientFetcher) Fetch(ctx context.Context, filter Filter) (View, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		devices []device.Device
		points  []telemetry.Point
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		devices, err = f.resolver.Resolve(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		points, err = f.api.Query(gctx, filter.DeviceID, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	now := f.now()
	statuses, err := f.health(ctx, devices, points, filter, now)
	if err != nil {
		return View{}, err
	}

	return View{
		Devices:   devices,
		Points:    points,
		Snapshot:  aggregate.Aggregate(points, devices),
		Health:    statuses,
		FetchedAt: now,
	}, nil
}

// health asks the server for each device's status, since uptime and error
// counts need the device's full history. Devices the server holds no
// telemetry for are classified locally as never seen.
func (f *ClientFetcher) health(ctx context.Context, devices []device.Device, points []telemetry.Point,
	filter Filter, now time.Time,
) ([]health.Status, error) {
	var shown []device.Device
	for _, d := range devices {
		if filter.DeviceID == "" || d.ID == filter.DeviceID {
			shown = append(shown, d)
		}
	}

	latest := aggregate.LatestByDevice(points)
	statuses := make([]health.Status, len(shown))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthConcurrency)
	for i, d := range shown {
		g.Go(func() error {
			s, err := f.api.Health(gctx, d.ID)
			if err == nil {
				statuses[i] = s
				return nil
			}
			if !client.IsNotFound(err) {
				return err
			}
			in := health.Input{Device: d, Now: now}
			if p, ok := latest[d.ID]; ok {
				in.Latest = &p
			}
			statuses[i] = health.Classify(in, f.thresholds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}
