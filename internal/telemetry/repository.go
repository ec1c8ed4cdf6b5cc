package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/database"
	"codeberg.org/mutker/telemetryd/internal/errors"
)

const (
	insertPointSQL = `
    INSERT INTO telemetry (
        id, device_id, owner, timestamp, status,
        energy_usage, voltage, current, power_factor, temperature, humidity
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectPointColumns = `
    SELECT id, device_id, owner, timestamp, status,
           energy_usage, voltage, current, power_factor, temperature, humidity
    FROM telemetry`

	// rowid breaks ties between points sharing a timestamp so that the
	// later insert sorts first.
	orderRecentFirst = ` ORDER BY timestamp DESC, rowid DESC`
)

// Repository persists points in SQLite.
type Repository interface {
	Insert(ctx context.Context, point Point) error
	Select(ctx context.Context, q Query) ([]Point, error)
	SelectSince(ctx context.Context, deviceID, owner string, since time.Time) ([]Point, error)
	CountSince(ctx context.Context, deviceID string, since time.Time) (int, error)
	CountErrors(ctx context.Context, deviceID string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository wraps an opened database. The repository takes ownership
// of db and closes it on Close.
func NewRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) Insert(ctx context.Context, p Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, insertPointSQL,
		p.ID,
		p.DeviceID,
		p.Owner,
		p.Timestamp.UnixNano(),
		p.Status,
		p.EnergyUsage,
		p.Voltage,
		p.Current,
		p.PowerFactor,
		p.Temperature,
		p.Humidity,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.New().WithMessage(ErrDuplicatePoint, "telemetry point already exists: "+p.ID)
		}
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Select(ctx context.Context, q Query) ([]Point, error) {
	query := selectPointColumns + ` WHERE (? = '' OR device_id = ?) AND (? = '' OR owner = ?)` +
		orderRecentFirst + ` LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, q.DeviceID, q.DeviceID, q.Owner, q.Owner, q.Limit)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return scanPoints(rows)
}

func (r *sqliteRepository) SelectSince(ctx context.Context, deviceID, owner string, since time.Time) ([]Point, error) {
	query := selectPointColumns + ` WHERE device_id = ? AND (? = '' OR owner = ?) AND timestamp >= ?` +
		orderRecentFirst

	rows, err := r.db.QueryContext(ctx, query, deviceID, owner, owner, since.UnixNano())
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return scanPoints(rows)
}

func (r *sqliteRepository) CountSince(ctx context.Context, deviceID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry WHERE device_id = ? AND timestamp >= ?`,
		deviceID, since.UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return count, nil
}

// CountErrors counts every point of the device whose status is not
// active.
func (r *sqliteRepository) CountErrors(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry WHERE device_id = ? AND status != ?`,
		deviceID, StatusActive,
	).Scan(&count)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return count, nil
}

func (r *sqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func scanPoints(rows *sql.Rows) ([]Point, error) {
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var (
			p  Point
			ts int64
		)
		if err := rows.Scan(
			&p.ID, &p.DeviceID, &p.Owner, &ts, &p.Status,
			&p.EnergyUsage, &p.Voltage, &p.Current, &p.PowerFactor, &p.Temperature, &p.Humidity,
		); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return points, nil
}
