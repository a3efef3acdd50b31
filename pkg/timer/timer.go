// Package timer provides the Clock & Timer Service (spec §4.1): monotonic
// time, cancellable one-shot timers, and periodic tickers, with a fire/cancel
// race resolved so that a true Cancel guarantees the callback never runs.
package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle references a scheduled one-shot timer.
type Handle struct {
	id      uint64
	timer   *time.Timer
	fired   atomic.Bool
	stopped atomic.Bool
}

// TickerHandle references a running periodic ticker.
type TickerHandle struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// Service is the Clock & Timer Service. The zero value is not usable; use
// New.
type Service struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64

	// now is overridable in tests; defaults to wall-clock seconds.
	now func() int64
}

// New creates a Service backed by the real wall clock.
func New() *Service {
	return &Service{
		handles: make(map[uint64]*Handle),
		now:     func() int64 { return time.Now().Unix() },
	}
}

// Now returns the current time as whole seconds since the epoch.
func (s *Service) Now() int64 {
	return s.now()
}

// Schedule runs fn once after delay, unless cancelled first. delay <= 0
// fires on the next scheduler tick (effectively immediately).
func (s *Service) Schedule(delay time.Duration, fn func()) *Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	h := &Handle{id: id}
	s.handles[id] = h
	s.mu.Unlock()

	h.timer = time.AfterFunc(delay, func() {
		// fired flips before fn runs; a racing Cancel that observes fired==true
		// knows fn has been committed to run (or is running) and must return
		// false per the §4.1 contract.
		if !h.fired.CompareAndSwap(false, true) {
			return
		}
		s.mu.Lock()
		delete(s.handles, id)
		s.mu.Unlock()
		fn()
	})

	return h
}

// Cancel stops a scheduled timer. Returns true only if fn is guaranteed to
// never run; returns false if fn has already been committed to run (it may
// be running concurrently with this call, or may have already completed).
func (s *Service) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	// Claim "fired" first: if we win the CAS, the AfterFunc callback (which
	// does the identical CAS) is guaranteed to lose it and return immediately
	// without calling fn, regardless of scheduling order.
	if !h.fired.CompareAndSwap(false, true) {
		return false
	}
	h.timer.Stop()
	h.stopped.Store(true)

	s.mu.Lock()
	delete(s.handles, h.id)
	s.mu.Unlock()
	return true
}

// Every runs fn on each tick of interval until the returned handle is
// stopped.
func (s *Service) Every(interval time.Duration, fn func()) *TickerHandle {
	th := &TickerHandle{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-th.ticker.C:
				fn()
			case <-th.done:
				return
			}
		}
	}()
	return th
}

// Stop halts a periodic ticker. Idempotent.
func (th *TickerHandle) Stop() {
	th.once.Do(func() {
		th.ticker.Stop()
		close(th.done)
	})
}

// Pending returns the number of currently-scheduled (not yet fired or
// cancelled) one-shot timers. Used by tests and reconciliation bookkeeping.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
