package device

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/database"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

const (
	insertDeviceSQL = `
    INSERT INTO user_devices (device_id, owner, device_name, device_type, location, is_active, created_at)
    VALUES (?, ?, ?, ?, ?, 1, ?)`

	selectDeviceColumns = `
    SELECT device_id, owner, device_name, device_type, location, is_active, created_at
    FROM user_devices`

	// The latest point per device is picked with a window function so the
	// join stays a single statement.
	selectSummariesSQL = `
    SELECT ud.device_id, ud.owner, ud.device_name, ud.device_type, ud.location, ud.is_active, ud.created_at,
           t.energy_usage, t.timestamp
    FROM user_devices ud
    LEFT JOIN (
        SELECT device_id, energy_usage, timestamp,
               ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY timestamp DESC, rowid DESC) AS rn
        FROM telemetry
        WHERE owner = ?
    ) t ON ud.device_id = t.device_id AND t.rn = 1
    WHERE ud.owner = ?
    ORDER BY ud.created_at DESC, ud.rowid DESC`
)

type sqliteRegistry struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewRegistry returns a Registry over the user_devices table of db. The
// caller keeps ownership of db.
func NewRegistry(db *sql.DB) Registry {
	return &sqliteRegistry{db: db, now: time.Now}
}

func (r *sqliteRegistry) Register(ctx context.Context, owner string, reg Registration) (Device, error) {
	errFactory := errors.New()

	reg.DeviceID = strings.TrimSpace(reg.DeviceID)
	if reg.DeviceID == "" {
		return Device{}, errFactory.WithMessage(ErrInvalidRegistration, "device_id is required")
	}
	if !telemetry.ValidDeviceID(reg.DeviceID) {
		return Device{}, errFactory.WithMessage(ErrInvalidRegistration,
			"device_id must not contain control characters or any of "+telemetry.ReservedIDChars)
	}
	if owner == "" {
		return Device{}, errFactory.WithMessage(ErrInvalidRegistration, "owner is required")
	}

	d := Device{
		ID:        reg.DeviceID,
		Name:      orDefault(reg.Name, DefaultName),
		Type:      orDefault(reg.Type, DefaultType),
		Location:  orDefault(reg.Location, DefaultLocation),
		Status:    StatusActive,
		Owner:     owner,
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, insertDeviceSQL,
		d.ID, d.Owner, d.Name, d.Type, d.Location, d.CreatedAt.UnixNano(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return Device{}, errFactory.WithMessage(ErrAlreadyRegistered, "device already registered: "+d.ID)
		}
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return d, nil
}

func (r *sqliteRegistry) List(ctx context.Context, owner string) ([]Device, error) {
	defer metrics.ObserveStoreQuery("devices", time.Now())

	rows, err := r.db.QueryContext(ctx,
		selectDeviceColumns+` WHERE owner = ? ORDER BY created_at DESC, rowid DESC`, owner)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return devices, nil
}

func (r *sqliteRegistry) Get(ctx context.Context, owner, deviceID string) (Device, error) {
	row := r.db.QueryRowContext(ctx,
		selectDeviceColumns+` WHERE owner = ? AND device_id = ?`, owner, deviceID)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errors.New().WithMessage(ErrNotFound, "device not found: "+deviceID)
	}
	return d, err
}

func (r *sqliteRegistry) Summaries(ctx context.Context, owner string) ([]Summary, error) {
	defer metrics.ObserveStoreQuery("summary", time.Now())

	rows, err := r.db.QueryContext(ctx, selectSummariesSQL, owner, owner)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var (
			s         Summary
			active    bool
			createdAt int64
			latestTS  sql.NullInt64
		)
		if err := rows.Scan(
			&s.ID, &s.Owner, &s.Name, &s.Type, &s.Location, &active, &createdAt,
			&s.LatestEnergyUsage, &latestTS,
		); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		s.Status = statusOf(active)
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		if latestTS.Valid {
			ts := time.Unix(0, latestTS.Int64).UTC()
			s.LastUpdate = &ts
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return summaries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (Device, error) {
	var (
		d         Device
		active    bool
		createdAt int64
	)
	if err := row.Scan(&d.ID, &d.Owner, &d.Name, &d.Type, &d.Location, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, err
		}
		return Device{}, errors.New().Wrap(ErrStorageAccess, err)
	}
	d.Status = statusOf(active)
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return d, nil
}

func statusOf(active bool) Status {
	if active {
		return StatusActive
	}
	return StatusInactive
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
