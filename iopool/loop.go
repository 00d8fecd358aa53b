package iopool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
)

// Task is a unit of work executed on a Loop. The ctx passed in identifies
// the loop that runs it; see Loop.Contains.
type Task func(ctx context.Context)

type loopKey struct{}

// Loop runs posted tasks one at a time on a single goroutine, in post order.
type Loop struct {
	index  int
	logger asio2.Logger

	mu      sync.Mutex
	queue   []Task
	closing bool

	wake    chan struct{}
	done    chan struct{}
	ctx     context.Context
	pending atomic.Int64
}

func newLoop(index int, l asio2.Logger) *Loop {
	lp := &Loop{
		index:  index,
		logger: l,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	lp.ctx = context.WithValue(context.Background(), loopKey{}, lp)
	return lp
}

// NewLoop returns a standalone loop that is already running. Stop it with Close.
func NewLoop(l asio2.Logger) *Loop {
	lp := newLoop(0, asio2.OrNoop(l))
	go lp.run()
	return lp
}

// Index returns the position of the loop inside its pool.
func (l *Loop) Index() int {
	return l.index
}

// Context returns the context handed to tasks running on this loop.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Contains reports whether ctx was produced by this loop, i.e. whether the
// caller is a task currently running on it.
func (l *Loop) Contains(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	lp, _ := ctx.Value(loopKey{}).(*Loop)
	return lp == l
}

// FromContext returns the loop running the current task, if any.
func FromContext(ctx context.Context) (*Loop, bool) {
	if ctx == nil {
		return nil, false
	}
	lp, ok := ctx.Value(loopKey{}).(*Loop)
	return lp, ok
}

// Post queues fn for execution. It never runs fn inline.
func (l *Loop) Post(fn Task) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrClosing
	}
	l.queue = append(l.queue, fn)
	l.pending.Add(1)
	// wake is closed under mu, so this send cannot race with shutdown.
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
	return nil
}

// Dispatch runs fn immediately when ctx belongs to this loop, otherwise it
// behaves like Post.
func (l *Loop) Dispatch(ctx context.Context, fn Task) error {
	if l.Contains(ctx) {
		l.exec(fn)
		return nil
	}
	return l.Post(fn)
}

// AfterFunc posts fn to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn Task) *time.Timer {
	return time.AfterFunc(d, func() {
		if err := l.Post(fn); err != nil {
			l.logger.Warnf("iopool: loop %d dropped timer task: %v", l.index, err)
		}
	})
}

// Pending returns the number of queued tasks not yet executed.
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Close stops accepting tasks, drains the queue and waits for the loop to exit.
func (l *Loop) Close() {
	l.shutdown()
	<-l.done
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	close(l.wake)
	l.mu.Unlock()
}

func (l *Loop) run() error {
	defer close(l.done)
	var batch []Task
	for {
		_, ok := <-l.wake

		l.mu.Lock()
		batch, l.queue = l.queue, batch[:0]
		l.mu.Unlock()

		for i, fn := range batch {
			l.exec(fn)
			l.pending.Add(-1)
			batch[i] = nil
		}

		if !ok {
			// Tasks queued between the last wake and close.
			l.mu.Lock()
			rest := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, fn := range rest {
				l.exec(fn)
				l.pending.Add(-1)
			}
			return nil
		}
	}
}

func (l *Loop) exec(fn Task) {
	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			l.logger.Errorf("iopool: panic in loop %d: %v\n%s", l.index, err, buf)
		}
	}()
	fn(l.ctx)
}
