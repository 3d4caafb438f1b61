// Package scheduler runs cancelable periodic deliveries on an injectable clock.
package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrInvalidInterval = errors.New("interval must be positive")

// Scheduler creates delivery handles and counts the ones still running.
type Scheduler struct {
	clock clockwork.Clock
	live  atomic.Int64
}

func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Live returns the number of handles that have not finished cancelling.
func (s *Scheduler) Live() int64 {
	return s.live.Load()
}

// Handle is one periodic delivery. Invocations of its function are
// sequential: invocation N returns before N+1 starts.
type Handle struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Every calls fn once per interval until the returned handle is cancelled.
// The ticker is armed before Every returns.
func (s *Scheduler) Every(interval time.Duration, fn func()) (*Handle, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	h := &Handle{
		ticker: s.clock.NewTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.live.Add(1)
	go s.run(h, fn)
	return h, nil
}

func (s *Scheduler) run(h *Handle, fn func()) {
	defer func() {
		h.ticker.Stop()
		s.live.Add(-1)
		close(h.done)
	}()
	for {
		select {
		case <-h.stop:
			return
		case <-h.ticker.Chan():
			// a cancel racing with the tick wins
			select {
			case <-h.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Cancel stops the handle and waits until an invocation already running has
// returned. It is idempotent. It must not be called from inside the handle's
// own function.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		close(h.stop)
	})
	<-h.done
}

// Done is closed once the handle has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// IntervalForRate converts a rate in Hz to the delivery period.
func IntervalForRate(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}
