package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/auth"
	"codeberg.org/mutker/telemetryd/internal/database"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   telemetry.Store
	tokens  *auth.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(database.Config{DBPath: filepath.Join(t.TempDir(), "telemetry.db")}, logger.Default())
	require.NoError(t, err)
	store := telemetry.NewStore(telemetry.NewRepository(db))
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := auth.NewManager("api-test-secret-0123456789abcdef", time.Hour)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	h := NewHandler(store, device.NewRegistry(db), tokens, cfg, logger.Default())
	h.now = func() time.Time { return now }

	return &testServer{t: t, handler: h.Routes(), store: store, tokens: tokens}
}

func (s *testServer) do(method, path, subject string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		token, err := s.tokens.GenerateToken(subject, "user")
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIngestAndQueryScenario(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"device_id":"abc123","energy_usage":1.0}`,
		`{"device_id":"abc123","energy_usage":2.5}`,
		`{"device_id":"abc123"}`,
	} {
		rec := s.do(http.MethodPost, "/telemetry", "alice", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		point := decode[telemetry.Point](t, rec)
		assert.NotEmpty(t, point.ID)
		assert.Equal(t, "alice", point.Owner)
	}

	rec := s.do(http.MethodGet, "/telemetry?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[[]telemetry.Point](t, rec)
	require.Len(t, points, 3)

	var total float64
	for _, p := range points {
		total += p.EnergyUsage.Or(0)
	}
	assert.InDelta(t, 3.5, total, 1e-9)
	assert.False(t, points[0].EnergyUsage.IsSet(), "latest point had no energy reading")

	rec = s.do(http.MethodGet, "/telemetry", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String(), "points are scoped to the caller")
}

func TestIngestRejectsNegativeEnergy(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/telemetry", "alice", `{"device_id":"abc123","energy_usage":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body["detail"], "energy_usage must be non-negative")

	rec = s.do(http.MethodPost, "/telemetry", "alice", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["detail"])

	rec = s.do(http.MethodGet, "/telemetry", "alice", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestIngestKeepsProducerID(t *testing.T) {
	s := newTestServer(t)
	body := `{"id":"p-1","device_id":"abc123","energy_usage":1.0,"status":"error"}`

	rec := s.do(http.MethodPost, "/telemetry", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	point := decode[telemetry.Point](t, rec)
	assert.Equal(t, "p-1", point.ID)
	assert.Equal(t, "error", point.Status)

	rec = s.do(http.MethodPost, "/telemetry", "alice", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "telemetry point already exists: p-1", decode[map[string]string](t, rec)["detail"])

	rec = s.do(http.MethodGet, "/telemetry", "alice", nil)
	assert.Len(t, decode[[]telemetry.Point](t, rec), 1)
}

func TestIngestRejectsReservedDeviceIDs(t *testing.T) {
	s := newTestServer(t)

	for _, id := range []string{"room/1", "plug?x", "a#b"} {
		rec := s.do(http.MethodPost, "/telemetry", "alice", map[string]string{"device_id": id})
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
		assert.Contains(t, decode[map[string]string](t, rec)["detail"], "device_id must not contain", id)
	}
}

func TestQueryLimitValidation(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]string{
		"/telemetry?limit=0":    "limit must be at least 1",
		"/telemetry?limit=1001": "limit must be at most 1000",
		"/telemetry?limit=abc":  "limit must be an integer",
	}
	for path, detail := range tests {
		rec := s.do(http.MethodGet, path, "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, detail, decode[map[string]string](t, rec)["detail"], path)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/telemetry", "/devices", "/telemetry/devices/summary", "/telemetry/x/health"} {
		rec := s.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "Invalid authentication credentials", decode[map[string]string](t, rec)["detail"])
	}
}

func TestHealthProbe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/health", "", nil)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")
}

func TestDevices(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/devices", "alice", device.Registration{DeviceID: "plug-1", Name: "Kitchen plug"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/devices", "alice", device.Registration{DeviceID: "plug-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/devices", "alice", device.Registration{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "device_id is required", decode[map[string]string](t, rec)["detail"])

	rec = s.do(http.MethodGet, "/devices", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	devices := decode[[]device.Device](t, rec)
	require.Len(t, devices, 1)
	assert.Equal(t, "Kitchen plug", devices[0].Name)

	rec = s.do(http.MethodPost, "/telemetry", "alice", `{"device_id":"plug-1","energy_usage":4.25}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/telemetry/devices/summary", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[summaryResponse](t, rec)
	assert.Equal(t, "alice", summary.Owner)
	assert.Equal(t, 1, summary.TotalDevices)
	assert.Equal(t, 1, summary.ActiveDevices)
	require.Len(t, summary.Devices, 1)
	v, ok := summary.Devices[0].LatestEnergyUsage.Get()
	require.True(t, ok)
	assert.InDelta(t, 4.25, v, 1e-9)
}

func TestDeviceAnalytics(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()

	for i, energy := range []float64{2, 4} {
		_, err := s.store.Append(ctx, telemetry.Point{
			DeviceID:    "plug-1",
			Owner:       "alice",
			Timestamp:   now.Add(-time.Duration(i+1) * time.Hour),
			EnergyUsage: telemetry.Some(energy),
		})
		require.NoError(t, err)
	}

	rec := s.do(http.MethodGet, "/telemetry/plug-1/analytics?period=daily", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "daily", body["period"])
	assert.InDelta(t, 3.0, body["average_usage"], 1e-9)
	assert.InDelta(t, 6.0, body["total_energy"], 1e-9)
	assert.InDelta(t, 2.0, body["total_readings"], 1e-9)

	rec = s.do(http.MethodGet, "/telemetry/plug-1/analytics?period=bogus", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weekly", decode[map[string]any](t, rec)["period"])

	rec = s.do(http.MethodGet, "/telemetry/unknown/analytics", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No telemetry data found for device unknown", decode[map[string]string](t, rec)["detail"])
}

func TestDeviceHealth(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()

	_, err := s.store.Append(ctx, telemetry.Point{
		DeviceID:    "plug-1",
		Owner:       "alice",
		Timestamp:   now.Add(-time.Minute),
		EnergyUsage: telemetry.Some(150),
	})
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/telemetry/plug-1/health", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status struct {
		DeviceID        string   `json:"device_id"`
		Status          string   `json:"status"`
		MaintenanceDue  bool     `json:"maintenance_due"`
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "plug-1", status.DeviceID)
	assert.Equal(t, "active", status.Status)
	assert.True(t, status.MaintenanceDue, "one point a day is poor uptime")
	assert.Equal(t, []string{
		"Device connectivity issues detected. Check network connection.",
		"High energy consumption detected. Consider optimization.",
	}, status.Recommendations)

	rec = s.do(http.MethodGet, "/telemetry/missing/health", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceHealthCountsErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()

	for i := range 30 {
		status := telemetry.StatusActive
		if i < 6 {
			status = "error"
		}
		_, err := s.store.Append(ctx, telemetry.Point{
			DeviceID:  "plug-1",
			Owner:     "alice",
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
			Status:    status,
		})
		require.NoError(t, err)
	}

	rec := s.do(http.MethodGet, "/telemetry/plug-1/health", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status struct {
		ErrorCount       int      `json:"error_count"`
		UptimePercentage float64  `json:"uptime_percentage"`
		MaintenanceDue   bool     `json:"maintenance_due"`
		Recommendations  []string `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 6, status.ErrorCount)
	assert.InDelta(t, 100.0, status.UptimePercentage, 1e-9)
	assert.True(t, status.MaintenanceDue)
	assert.Equal(t, []string{"Multiple errors detected. Device may require maintenance."}, status.Recommendations)
}
