package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"github.com/google/uuid"
)

type service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*service)

// WithClock overrides the clock used to stamp points without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithIDGenerator overrides point id assignment.
func WithIDGenerator(newID func() string) Option {
	return func(s *service) { s.newID = newID }
}

// NewStore returns a Store backed by repo.
func NewStore(repo Repository, opts ...Option) Store {
	s := &service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Append(ctx context.Context, point Point) (Point, error) {
	if err := Validate(point); err != nil {
		return Point{}, err
	}

	if point.ID == "" {
		point.ID = s.newID()
	}
	if point.Status == "" {
		point.Status = StatusActive
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = s.now()
	}
	point.Timestamp = point.Timestamp.UTC()

	select {
	case <-ctx.Done():
		return Point{}, errors.New().Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Insert(ctx, point); err != nil {
		return Point{}, err
	}

	return point, nil
}

func (s *service) Query(ctx context.Context, q Query) ([]Point, error) {
	if q.Limit <= 0 {
		return nil, errors.New().WithMessage(ErrInvalidQuery, "limit must be a positive integer")
	}

	defer metrics.ObserveStoreQuery("window", time.Now())
	return s.repo.Select(ctx, q)
}

func (s *service) Since(ctx context.Context, deviceID, owner string, since time.Time) ([]Point, error) {
	if deviceID == "" {
		return nil, errors.New().WithMessage(ErrInvalidQuery, "device_id is required")
	}

	defer metrics.ObserveStoreQuery("since", time.Now())
	return s.repo.SelectSince(ctx, deviceID, owner, since)
}

func (s *service) CountSince(ctx context.Context, deviceID string, since time.Time) (int, error) {
	defer metrics.ObserveStoreQuery("count", time.Now())
	return s.repo.CountSince(ctx, deviceID, since)
}

func (s *service) CountErrors(ctx context.Context, deviceID string) (int, error) {
	defer metrics.ObserveStoreQuery("errors", time.Now())
	return s.repo.CountErrors(ctx, deviceID)
}

func (s *service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return errors.New().Wrap(errors.ErrUnavailable, err)
	}
	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}
