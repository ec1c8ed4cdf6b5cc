package telemetry_test

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/database"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...telemetry.Option) telemetry.Store {
	t.Helper()
	db, err := database.Open(database.Config{DBPath: filepath.Join(t.TempDir(), "telemetry.db")}, logger.Default())
	require.NoError(t, err)

	store := telemetry.NewStore(telemetry.NewRepository(db), opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, telemetry.WithClock(func() time.Time { return base }))

	stored, err := store.Append(ctx, telemetry.Point{DeviceID: "abc123", EnergyUsage: telemetry.Some(1.5)})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.True(t, stored.Timestamp.Equal(base))

	points, err := store.Query(ctx, telemetry.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, stored, points[0])
}

func TestAppendKeepsProvidedIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ts := base.Add(-time.Hour)
	stored, err := store.Append(ctx, telemetry.Point{ID: "p-1", DeviceID: "abc123", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, "p-1", stored.ID)
	assert.True(t, stored.Timestamp.Equal(ts))
	assert.Equal(t, telemetry.StatusActive, stored.Status)
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, telemetry.Point{ID: "p-1", DeviceID: "abc123"})
	require.NoError(t, err)

	_, err = store.Append(ctx, telemetry.Point{ID: "p-1", DeviceID: "other"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrDuplicatePoint))

	points, err := store.Query(ctx, telemetry.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "abc123", points[0].DeviceID)
}

func TestCountErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, status := range []string{"", "active", "error", "offline", "error"} {
		_, err := store.Append(ctx, telemetry.Point{DeviceID: "abc123", Status: status})
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, telemetry.Point{DeviceID: "other", Status: "error"})
	require.NoError(t, err)

	count, err := store.CountErrors(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	points, err := store.Query(ctx, telemetry.Query{DeviceID: "abc123", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "active", points[len(points)-1].Status, "missing status is stored as active")
}

func TestQueryOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, id := range []string{"a", "b", "a", "c", "a"} {
		_, err := store.Append(ctx, telemetry.Point{
			ID:        fmt.Sprintf("p%d", i),
			DeviceID:  id,
			Owner:     "alice",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, telemetry.Point{ID: "bob-1", DeviceID: "a", Owner: "bob", Timestamp: base})
	require.NoError(t, err)

	all, err := store.Query(ctx, telemetry.Query{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp), "points must be most-recent-first")
	}
	assert.Equal(t, "p4", all[0].ID)

	limited, err := store.Query(ctx, telemetry.Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p3"}, ids(limited))

	deviceA, err := store.Query(ctx, telemetry.Query{DeviceID: "a", Owner: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p2", "p0"}, ids(deviceA))

	bob, err := store.Query(ctx, telemetry.Query{Owner: "bob", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob-1"}, ids(bob))
}

func TestQueryTiesFavorLaterInsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"first", "second"} {
		_, err := store.Append(ctx, telemetry.Point{ID: id, DeviceID: "abc123", Timestamp: base})
		require.NoError(t, err)
	}

	points, err := store.Query(ctx, telemetry.Query{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, ids(points))
}

func TestQueryRejectsNonPositiveLimit(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Query(context.Background(), telemetry.Query{Limit: 0})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrInvalidQuery))
}

func TestAppendValidation(t *testing.T) {
	tests := []struct {
		name   string
		point  telemetry.Point
		detail string
	}{
		{
			name:   "missing device id",
			point:  telemetry.Point{EnergyUsage: telemetry.Some(1)},
			detail: "device_id is required",
		},
		{
			name:   "negative energy",
			point:  telemetry.Point{DeviceID: "abc123", EnergyUsage: telemetry.Some(-0.5)},
			detail: "energy_usage must be non-negative",
		},
		{
			name:   "infinite energy",
			point:  telemetry.Point{DeviceID: "abc123", EnergyUsage: telemetry.Some(math.Inf(1))},
			detail: "energy_usage must be a finite number",
		},
		{
			name:   "nan temperature",
			point:  telemetry.Point{DeviceID: "abc123", Temperature: telemetry.Some(math.NaN())},
			detail: "temperature must be a finite number",
		},
		{
			name:   "device id with path separator",
			point:  telemetry.Point{DeviceID: "room/1"},
			detail: "device_id must not contain",
		},
		{
			name:   "status too long",
			point:  telemetry.Point{DeviceID: "abc123", Status: strings.Repeat("x", telemetry.MaxStatusLength+1)},
			detail: "status must be at most",
		},
		{
			name:   "device id too long",
			point:  telemetry.Point{DeviceID: string(make([]byte, telemetry.MaxDeviceIDLength+1))},
			detail: "device_id must be at most",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)

			_, err := store.Append(ctx, tt.point)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, telemetry.ErrInvalidPoint))
			assert.Contains(t, errors.Detail(err), tt.detail)

			points, err := store.Query(ctx, telemetry.Query{Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, points, "rejected points must not be persisted")
		})
	}
}

func TestAbsentAndZeroAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, telemetry.Point{ID: "zero", DeviceID: "abc123", Timestamp: base, EnergyUsage: telemetry.Some(0)})
	require.NoError(t, err)
	_, err = store.Append(ctx, telemetry.Point{ID: "absent", DeviceID: "abc123", Timestamp: base.Add(time.Second)})
	require.NoError(t, err)

	points, err := store.Query(ctx, telemetry.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.False(t, points[0].EnergyUsage.IsSet())
	v, ok := points[1].EnergyUsage.Get()
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const producers, perProducer = 16, 25

	var wg sync.WaitGroup
	errs := make(chan error, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := store.Append(ctx, telemetry.Point{
					DeviceID:    fmt.Sprintf("device-%d", p),
					EnergyUsage: telemetry.Some(float64(i)),
				})
				if err != nil {
					errs <- err
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	points, err := store.Query(ctx, telemetry.Query{Limit: producers * perProducer * 2})
	require.NoError(t, err)
	assert.Len(t, points, producers*perProducer)

	seen := make(map[string]bool, len(points))
	for _, p := range points {
		assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
	}
}

func TestSinceAndCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, telemetry.Point{
			DeviceID:  "abc123",
			Owner:     "alice",
			Timestamp: base.Add(-time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	window, err := store.Since(ctx, "abc123", "alice", base.Add(-150*time.Minute))
	require.NoError(t, err)
	assert.Len(t, window, 3)

	none, err := store.Since(ctx, "abc123", "bob", base.Add(-150*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)

	count, err := store.CountSince(ctx, "abc123", base.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func ids(points []telemetry.Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}
