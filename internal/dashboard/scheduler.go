package dashboard

import (
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned Task is cancelled.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// Task is a handle to a scheduled recurring call. Cancel returns only once
// fn can no longer be invoked, and is safe to call more than once.
type Task interface {
	Cancel()
}

// TickerScheduler schedules on a time.Ticker, one goroutine per task.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickerTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTask) run(fn func()) {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			// A tick and a stop can be ready together; stop wins.
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Cancel waits for an in-progress fn to return. Callers must not hold
// locks that fn acquires.
func (t *tickerTask) Cancel() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
	<-t.done
}
