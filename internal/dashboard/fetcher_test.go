package dashboard_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/dashboard"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	devices    []device.Device
	devicesErr error
	points     []telemetry.Point
	queryErr   error
	health     map[string]health.Status
	healthErr  error
}

func (a *fakeAPI) Query(_ context.Context, deviceID string, limit int) ([]telemetry.Point, error) {
	if a.queryErr != nil {
		return nil, a.queryErr
	}
	var out []telemetry.Point
	for _, p := range a.points {
		if deviceID == "" || p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *fakeAPI) Devices(context.Context) ([]device.Device, error) {
	return a.devices, a.devicesErr
}

func (a *fakeAPI) DevicesSummary(context.Context) ([]device.Summary, error) {
	return nil, fmt.Errorf("summary unavailable")
}

func (a *fakeAPI) Health(_ context.Context, deviceID string) (health.Status, error) {
	if a.healthErr != nil {
		return health.Status{}, a.healthErr
	}
	s, ok := a.health[deviceID]
	if !ok {
		return health.Status{}, errors.New().WithMessage(client.ErrNotFound, "No telemetry data found for device "+deviceID)
	}
	return s, nil
}

func TestClientFetcher(t *testing.T) {
	now := time.Now().UTC()
	seen := now.Add(-time.Minute)
	api := &fakeAPI{
		devices: []device.Device{
			{ID: "d1", Name: "Plug", Status: device.StatusActive},
			{ID: "d2", Name: "Heater", Status: device.StatusActive},
		},
		points: []telemetry.Point{
			{ID: "p2", DeviceID: "d1", Timestamp: now.Add(-time.Minute), EnergyUsage: telemetry.Some(2), Temperature: telemetry.Some(20)},
			{ID: "p1", DeviceID: "d1", Timestamp: now.Add(-2 * time.Minute), EnergyUsage: telemetry.Some(1.5)},
		},
		health: map[string]health.Status{
			"d1": {DeviceID: "d1", Status: device.StatusActive, LastSeen: &seen, UptimePercentage: 100, ErrorCount: 2},
		},
	}
	f := dashboard.NewClientFetcher(api, health.DefaultThresholds(), logger.Default())

	view, err := f.Fetch(t.Context(), dashboard.Filter{})
	require.NoError(t, err)

	assert.Len(t, view.Devices, 2)
	assert.Len(t, view.Points, 2)
	assert.InDelta(t, 3.5, view.Snapshot.TotalEnergy, 1e-9)
	assert.Equal(t, 2, view.Snapshot.ActiveDeviceCount)
	require.Len(t, view.Health, 2)
	assert.Equal(t, "d1", view.Health[0].DeviceID)
	assert.NotNil(t, view.Health[0].LastSeen)
	assert.InDelta(t, 100.0, view.Health[0].UptimePercentage, 1e-9, "uptime comes from the server")
	assert.Equal(t, 2, view.Health[0].ErrorCount)
	assert.Equal(t, "d2", view.Health[1].DeviceID)
	assert.Nil(t, view.Health[1].LastSeen)
	assert.Equal(t, device.StatusInactive, view.Health[1].Status, "never seen devices are classified locally")

	filtered, err := f.Fetch(t.Context(), dashboard.Filter{DeviceID: "d1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, filtered.Points, 1)
	require.Len(t, filtered.Health, 1)
	assert.Equal(t, "d1", filtered.Health[0].DeviceID)
}

func TestClientFetcherSynthesizesFromWindow(t *testing.T) {
	api := &fakeAPI{
		devicesErr: fmt.Errorf("registry down"),
		points: []telemetry.Point{
			{ID: "p1", DeviceID: "abcdef123456", Timestamp: time.Now()},
		},
	}
	f := dashboard.NewClientFetcher(api, health.DefaultThresholds(), logger.Default())

	view, err := f.Fetch(t.Context(), dashboard.Filter{})
	require.NoError(t, err)
	require.Len(t, view.Devices, 1)
	assert.True(t, view.Devices[0].Synthesized)
}

func TestClientFetcherPropagatesErrors(t *testing.T) {
	unauthorized := &fakeAPI{devicesErr: errors.New().New(client.ErrUnauthorized)}
	f := dashboard.NewClientFetcher(unauthorized, health.DefaultThresholds(), logger.Default())

	_, err := f.Fetch(t.Context(), dashboard.Filter{})
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))

	down := &fakeAPI{queryErr: errors.New().New(client.ErrTransient)}
	f = dashboard.NewClientFetcher(down, health.DefaultThresholds(), logger.Default())

	_, err = f.Fetch(t.Context(), dashboard.Filter{})
	require.Error(t, err)
	assert.True(t, client.IsTransient(err))
}

func TestClientFetcherPropagatesHealthErrors(t *testing.T) {
	api := &fakeAPI{
		devices:   []device.Device{{ID: "d1"}},
		healthErr: errors.New().New(client.ErrUnauthorized),
	}
	f := dashboard.NewClientFetcher(api, health.DefaultThresholds(), logger.Default())

	_, err := f.Fetch(t.Context(), dashboard.Filter{})
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))
}
