// Package iopool owns the run loops that connections are bound to.
//
// A Pool holds a fixed number of loops. Next hands them out round-robin so
// that connections spread across goroutines while each connection keeps all
// of its callbacks on one loop.
package iopool

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	asio2 "github.com/zhllxt/asio2-sub011"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosing indicates the pool or loop is shutting down.
	ErrClosing = errors.New("iopool is closing")

	// ErrStarted indicates Start was called on a running pool.
	ErrStarted = errors.New("iopool is already started")
)

// Pool manages a fixed set of loops.
type Pool struct {
	mu      sync.Mutex
	loops   []*Loop
	next    atomic.Uint32
	logger  asio2.Logger
	eg      *errgroup.Group
	running atomic.Bool
	stopped bool
}

// NewPool creates a pool of size loops. A size <= 0 means runtime.NumCPU().
// The loops do not run until Start is called.
func NewPool(size int, l asio2.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	l = asio2.OrNoop(l)
	p := &Pool{
		loops:  make([]*Loop, 0, size),
		logger: l,
	}
	for i := range size {
		p.loops = append(p.loops, newLoop(i, l))
	}
	return p
}

// Start launches one goroutine per loop.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrClosing
	}
	if p.eg != nil {
		return ErrStarted
	}
	p.eg = &errgroup.Group{}
	for _, lp := range p.loops {
		p.eg.Go(lp.run)
	}
	p.running.Store(true)
	p.logger.Infof("iopool: started %d loops", len(p.loops))
	return nil
}

// Stop closes every loop, lets each drain its queue, and waits for them.
// Tasks posted before Start still run. A stopped pool cannot be restarted. Stop must not be called from a task
// running on one of the pool's loops.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	eg := p.eg
	p.mu.Unlock()

	for _, lp := range p.loops {
		lp.shutdown()
	}
	if eg == nil {
		eg = &errgroup.Group{}
		for _, lp := range p.loops {
			eg.Go(lp.run)
		}
	}
	_ = eg.Wait()
	p.running.Store(false)
	p.logger.Infof("iopool: stopped")
}

// Next returns the next loop in round-robin order.
func (p *Pool) Next() *Loop {
	n := p.next.Add(1) - 1
	return p.loops[n%uint32(len(p.loops))]
}

// At returns the loop at index i modulo the pool size.
func (p *Pool) At(i int) *Loop {
	i %= len(p.loops)
	if i < 0 {
		i += len(p.loops)
	}
	return p.loops[i]
}

// Len returns the number of loops.
func (p *Pool) Len() int {
	return len(p.loops)
}

// Running reports whether the pool has been started and not stopped.
func (p *Pool) Running() bool {
	return p.running.Load()
}
