package resolver_test

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/resolver"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSource = fmt.Errorf("source offline")

type fakeSources struct {
	declared      []device.Device
	declaredErr   error
	summaries     []device.Summary
	summaryErr    error
	window        []telemetry.Point
	windowErr     error
	declaredCalls int
	summaryCalls  int
	windowCalls   int
	windowLimit   int
}

func (f *fakeSources) resolver(cfg resolver.Config) *resolver.Resolver {
	return resolver.New(
		resolver.DeclaredFunc(func(context.Context, string) ([]device.Device, error) {
			f.declaredCalls++
			return f.declared, f.declaredErr
		}),
		resolver.SummaryFunc(func(context.Context, string) ([]device.Summary, error) {
			f.summaryCalls++
			return f.summaries, f.summaryErr
		}),
		resolver.WindowFunc(func(_ context.Context, _ string, limit int) ([]telemetry.Point, error) {
			f.windowCalls++
			f.windowLimit = limit
			return f.window, f.windowErr
		}),
		cfg,
		logger.Default(),
	)
}

func points(ids ...string) []telemetry.Point {
	out := make([]telemetry.Point, len(ids))
	for i, id := range ids {
		out[i] = telemetry.Point{DeviceID: id}
	}
	return out
}

func TestDeclaredShortCircuits(t *testing.T) {
	f := &fakeSources{
		declared: []device.Device{{ID: "plug-1", Name: "Kitchen"}},
		window:   points("other"),
	}

	devices, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, f.declared, devices)
	assert.Equal(t, 1, f.declaredCalls)
	assert.Zero(t, f.summaryCalls)
	assert.Zero(t, f.windowCalls)
}

func TestEmptyDeclarationIsTerminal(t *testing.T) {
	f := &fakeSources{declared: []device.Device{}, window: points("a")}

	devices, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.Zero(t, f.summaryCalls)
	assert.Zero(t, f.windowCalls)
}

func TestEmptyDeclarationWithBackstop(t *testing.T) {
	f := &fakeSources{declared: []device.Device{}, window: points("a")}

	cfg := resolver.DefaultConfig()
	cfg.BackstopEmpty = true
	devices, err := f.resolver(cfg).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Synthesized)
	assert.Zero(t, f.summaryCalls, "summary is consulted only after a declared failure")
	assert.Equal(t, 1, f.windowCalls)
}

func TestSummaryUsedAfterDeclaredFailure(t *testing.T) {
	f := &fakeSources{
		declaredErr: errSource,
		summaries: []device.Summary{
			{Device: device.Device{ID: "plug-1"}, LatestEnergyUsage: telemetry.Some(3)},
		},
		window: points("other"),
	}

	devices, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "plug-1", devices[0].ID)
	assert.Equal(t, 1, f.summaryCalls)
	assert.Zero(t, f.windowCalls)
}

func TestSynthesisAfterBothFail(t *testing.T) {
	tests := []struct {
		name       string
		summaries  []device.Summary
		summaryErr error
	}{
		{"summary errors", nil, errSource},
		{"summary empty", []device.Summary{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSources{
				declaredErr: errSource,
				summaries:   tt.summaries,
				summaryErr:  tt.summaryErr,
				window:      points("abcdefghijk", "b", "abcdefghijk", "c", "b"),
			}

			devices, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
			require.NoError(t, err)

			require.Len(t, devices, 3)
			assert.Equal(t, []string{"abcdefghijk", "b", "c"}, deviceIDs(devices))
			assert.Equal(t, "Device abcdefgh", devices[0].Name)
			for _, d := range devices {
				assert.Equal(t, device.StatusActive, d.Status)
				assert.Equal(t, "Smart Device", d.Type)
				assert.True(t, d.Synthesized)
			}
			assert.Equal(t, resolver.DefaultWindowLimit, f.windowLimit)
		})
	}
}

func TestExhaustionIsEmptyNotError(t *testing.T) {
	f := &fakeSources{declaredErr: errSource, summaryErr: errSource, window: []telemetry.Point{}}

	devices, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)

	f.windowErr = errSource
	devices, err = f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestNilSourcesCountAsFailed(t *testing.T) {
	window := resolver.WindowFunc(func(context.Context, string, int) ([]telemetry.Point, error) {
		return points("x"), nil
	})

	devices, err := resolver.New(nil, nil, window, resolver.Config{WindowLimit: 5}, logger.Default()).
		Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, deviceIDs(devices))
}

func TestUnauthorizedAbortsResolution(t *testing.T) {
	f := &fakeSources{
		declaredErr: errors.New().New(errors.ErrUnauthorized),
		window:      points("a"),
	}

	_, err := f.resolver(resolver.DefaultConfig()).Resolve(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnauthorized))
	assert.Zero(t, f.summaryCalls)
	assert.Zero(t, f.windowCalls)
}

func deviceIDs(devices []device.Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.ID
	}
	return out
}
