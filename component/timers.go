package component

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhllxt/asio2-sub011/iopool"
)

// SilenceTimer fires once no activity has been recorded on Alive for Timeout.
// While traffic keeps flowing it re-arms itself for the remaining time.
type SilenceTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// Start arms the timer. fn runs on loop when one is given, otherwise on the
// timer goroutine. A zero timeout leaves the timer disabled.
func (s *SilenceTimer) Start(alive *AliveTime, timeout time.Duration, loop *iopool.Loop, fn func()) {
	if timeout <= 0 || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false

	var check func()
	check = func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		idle := alive.SilenceDuration()
		if idle < timeout && !alive.LastAliveTime().IsZero() {
			s.timer = time.AfterFunc(timeout-idle, check)
			s.mu.Unlock()
			return
		}
		s.stopped = true
		s.mu.Unlock()

		if loop == nil {
			fn()
			return
		}
		_ = loop.Post(func(context.Context) { fn() })
	}
	s.timer = time.AfterFunc(timeout, check)
}

// Stop disarms the timer.
func (s *SilenceTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type userTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped atomic.Bool
}

func (ut *userTimer) stop() {
	ut.stopped.Store(true)
	ut.mu.Lock()
	ut.t.Stop()
	ut.mu.Unlock()
}

// UserTimers manages named repeating timers.
type UserTimers struct {
	mu     sync.Mutex
	loop   *iopool.Loop
	timers map[any]*userTimer
}

// SetTimerLoop makes timer callbacks run on l.
func (u *UserTimers) SetTimerLoop(l *iopool.Loop) {
	u.mu.Lock()
	u.loop = l
	u.mu.Unlock()
}

// StartTimer runs fn every interval until StopTimer(id). An existing timer
// with the same id is replaced.
func (u *UserTimers) StartTimer(id any, interval time.Duration, fn func()) {
	if interval <= 0 || fn == nil {
		return
	}
	ut := &userTimer{}

	u.mu.Lock()
	if u.timers == nil {
		u.timers = make(map[any]*userTimer)
	}
	if old, ok := u.timers[id]; ok {
		old.stop()
	}
	u.timers[id] = ut
	loop := u.loop

	fire := func() {
		if ut.stopped.Load() {
			return
		}
		if loop == nil {
			fn()
		} else if err := loop.Post(func(context.Context) {
			if !ut.stopped.Load() {
				fn()
			}
		}); err != nil {
			ut.stopped.Store(true)
			return
		}
		ut.mu.Lock()
		if !ut.stopped.Load() {
			ut.t.Reset(interval)
		}
		ut.mu.Unlock()
	}
	ut.mu.Lock()
	ut.t = time.AfterFunc(interval, fire)
	ut.mu.Unlock()
	u.mu.Unlock()
}

// StopTimer stops and forgets the timer with id.
func (u *UserTimers) StopTimer(id any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if ut, ok := u.timers[id]; ok {
		ut.stop()
		delete(u.timers, id)
	}
}

// StopAllTimers stops every timer.
func (u *UserTimers) StopAllTimers() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, ut := range u.timers {
		ut.stop()
		delete(u.timers, id)
	}
}

// IsTimerExists reports whether a timer with id is running.
func (u *UserTimers) IsTimerExists(id any) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.timers[id]
	return ok
}

// ConnectTimeout bounds the connect phase of a client.
type ConnectTimeout struct {
	Timeout time.Duration
}

// WithConnectTimeout derives a context that expires after Timeout. A zero
// Timeout only adds cancellation.
func (c ConnectTimeout) WithConnectTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
