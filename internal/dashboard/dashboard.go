// Package dashboard keeps a polled view of a telemetryd instance in sync
// with the server.
package dashboard

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
)

const DefaultInterval = 30 * time.Second

const (
	triggerInitial = "initial"
	triggerPoll    = "poll"
	triggerFilter  = "filter"
	triggerManual  = "manual"
)

// Fetcher produces a View for a filter.
type Fetcher interface {
	Fetch(ctx context.Context, f Filter) (View, error)
}

type FetchFunc func(ctx context.Context, f Filter) (View, error)

func (fn FetchFunc) Fetch(ctx context.Context, f Filter) (View, error) { return fn(ctx, f) }

type Config struct {
	Interval  time.Duration
	Scheduler Scheduler
	Filter    Filter
	// OnRevoked runs after a fetch is rejected as unauthorized.
	OnRevoked func()
	// OnChange receives a copy of the state after every transition. It is
	// called without the dashboard lock held.
	OnChange func(Model)
}

// Dashboard polls a Fetcher on a schedule. At any time at most one poll
// task is alive, and results of superseded cycles are discarded.
type Dashboard struct {
	fetcher   Fetcher
	sched     Scheduler
	interval  time.Duration
	onRevoked func()
	onChange  func(Model)
	log       logger.Logger

	mu       sync.Mutex
	state    State
	filter   Filter
	view     *View
	err      error
	gen      uint64
	fetching uint64 // generation of the fetch in flight, 0 if none
	task     Task
	base     context.Context
	cycle    context.Context
	endCycle context.CancelFunc
	closed   bool
}

func New(fetcher Fetcher, cfg Config, log logger.Logger) *Dashboard {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler{}
	}
	return &Dashboard{
		fetcher:   fetcher,
		sched:     cfg.Scheduler,
		interval:  cfg.Interval,
		onRevoked: cfg.OnRevoked,
		onChange:  cfg.OnChange,
		log:       log,
		state:     StateIdle,
		filter:    cfg.Filter,
	}
}

// Model returns a copy of the current state.
func (d *Dashboard) Model() Model {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modelLocked()
}

func (d *Dashboard) modelLocked() Model {
	return Model{
		State:      d.state,
		Filter:     d.filter,
		View:       d.view,
		Err:        d.err,
		Generation: d.gen,
	}
}

// Start performs the initial load and schedules polling. A transient
// failure leaves the dashboard in the error state with polling scheduled,
// so the next tick can recover; the failure is also returned.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || d.state != StateIdle {
		d.mu.Unlock()
		return errors.New().WithMessage(errors.ErrInvalidOperation, "dashboard already started")
	}
	d.base = ctx
	d.beginCycleLocked()
	d.state = StateLoading
	g, cycle, filter := d.gen, d.cycle, d.filter
	d.fetching = g
	d.notifyLocked()

	err := d.fetchAndApply(ctx, cycle, g, filter, triggerInitial)

	d.mu.Lock()
	d.scheduleLocked(g)
	d.mu.Unlock()

	return err
}

// SetFilter cancels the current poll task, fetches for f immediately and
// schedules a fresh task for the new filter.
func (d *Dashboard) SetFilter(ctx context.Context, f Filter) error {
	d.mu.Lock()
	if d.closed || d.state == StateIdle {
		d.filter = f
		d.mu.Unlock()
		return nil
	}
	old := d.task
	d.task = nil
	d.beginCycleLocked()
	d.filter = f
	g, cycle := d.gen, d.cycle
	d.fetching = g
	if d.view == nil {
		d.state = StateLoading
	} else {
		d.state = StateRefreshing
	}
	d.notifyLocked()

	d.cancelTask(old)

	d.mu.Lock()
	d.scheduleLocked(g)
	d.mu.Unlock()

	return d.fetchAndApply(ctx, cycle, g, f, triggerFilter)
}

// Refresh performs one out-of-band fetch for the current filter without
// touching the schedule. It is a no-op while another fetch is running.
func (d *Dashboard) Refresh(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || d.state == StateIdle {
		d.mu.Unlock()
		return nil
	}
	if d.fetching != 0 {
		d.mu.Unlock()
		metrics.DashboardFetches.WithLabelValues(triggerManual, "skipped").Inc()
		return nil
	}
	g, cycle, filter := d.gen, d.cycle, d.filter
	d.fetching = g
	if d.view != nil {
		d.state = StateRefreshing
	}
	d.notifyLocked()

	return d.fetchAndApply(ctx, cycle, g, filter, triggerManual)
}

// DismissError clears the banner error. A dashboard holding data returns
// to ready.
func (d *Dashboard) DismissError() {
	d.mu.Lock()
	if d.err == nil {
		d.mu.Unlock()
		return
	}
	d.err = nil
	if d.state == StateError && d.view != nil {
		d.state = StateReady
	}
	d.notifyLocked()
}

// Close cancels polling and returns the dashboard to idle. Ticks already
// scheduled will not fire afterwards.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	old := d.task
	d.task = nil
	d.gen++
	if d.endCycle != nil {
		d.endCycle()
	}
	d.state = StateIdle
	d.notifyLocked()

	d.cancelTask(old)
}

func (d *Dashboard) tick(g uint64) {
	d.mu.Lock()
	if d.closed || g != d.gen {
		d.mu.Unlock()
		return
	}
	if d.fetching != 0 {
		d.mu.Unlock()
		metrics.DashboardFetches.WithLabelValues(triggerPoll, "skipped").Inc()
		return
	}
	if d.state != StateReady && d.state != StateError {
		d.mu.Unlock()
		return
	}
	base, cycle, filter := d.base, d.cycle, d.filter
	d.fetching = g
	d.state = StateRefreshing
	d.notifyLocked()

	_ = d.fetchAndApply(base, cycle, g, filter, triggerPoll)
}

// fetchAndApply runs one fetch for generation g and applies its result
// unless the cycle was superseded meanwhile.
func (d *Dashboard) fetchAndApply(parent, cycle context.Context, g uint64, f Filter, trigger string) error {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(cycle, cancel)
	view, err := d.fetcher.Fetch(ctx, f)
	stop()
	cancel()

	d.mu.Lock()
	if d.fetching == g {
		d.fetching = 0
	}
	if d.closed || g != d.gen {
		d.mu.Unlock()
		metrics.DashboardFetches.WithLabelValues(trigger, "stale").Inc()
		return nil
	}

	if err != nil {
		if client.IsUnauthorized(err) {
			metrics.DashboardFetches.WithLabelValues(trigger, "unauthorized").Inc()
			d.revokeLocked(err, trigger == triggerPoll)
			return err
		}

		metrics.DashboardFetches.WithLabelValues(trigger, "error").Inc()
		d.log.Warn().
			Err(err).
			Str("trigger", trigger).
			Msg("Dashboard fetch failed")
		d.state = StateError
		d.err = err
		d.notifyLocked()
		return err
	}

	metrics.DashboardFetches.WithLabelValues(trigger, "success").Inc()
	d.view = &view
	d.err = nil
	d.state = StateReady
	d.notifyLocked()
	return nil
}

// revokeLocked stops polling for good after an auth failure. It releases
// d.mu. A poll tick cannot wait for its own task to stop, so there the
// task is cancelled in the background; the bumped generation already
// keeps it from fetching again.
func (d *Dashboard) revokeLocked(err error, inTick bool) {
	old := d.task
	d.task = nil
	d.gen++
	if d.endCycle != nil {
		d.endCycle()
	}
	d.state = StateError
	d.err = err
	d.notifyLocked()

	if inTick {
		go d.cancelTask(old)
	} else {
		d.cancelTask(old)
	}

	d.log.Warn().Msg("Session rejected, polling stopped")
	if d.onRevoked != nil {
		d.onRevoked()
	}
}

func (d *Dashboard) beginCycleLocked() {
	if d.endCycle != nil {
		d.endCycle()
	}
	d.gen++
	d.cycle, d.endCycle = context.WithCancel(context.WithoutCancel(d.base))
}

// scheduleLocked installs the poll task for generation g unless g was
// superseded or a task already exists.
func (d *Dashboard) scheduleLocked(g uint64) {
	if d.closed || g != d.gen || d.task != nil {
		return
	}
	d.task = d.sched.Every(d.interval, func() { d.tick(g) })
	metrics.DashboardActiveTasks.Inc()
}

func (d *Dashboard) cancelTask(t Task) {
	if t == nil {
		return
	}
	t.Cancel()
	metrics.DashboardActiveTasks.Dec()
}

// notifyLocked releases d.mu and reports the new state.
func (d *Dashboard) notifyLocked() {
	m := d.modelLocked()
	d.mu.Unlock()
	if d.onChange != nil {
		d.onChange(m)
	}
}
