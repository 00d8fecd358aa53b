package rpc

import (
	"sync"
	"time"
)

type call struct {
	method string
	reply  any
	timer  *time.Timer
	done   func(error)
}

// pendingTable correlates request ids with waiting calls. Ids start at 1 and
// every id leaves the table exactly once.
type pendingTable struct {
	mu     sync.Mutex
	seq    uint64
	calls  map[uint64]*call
	closed bool
}

func (p *pendingTable) add(c *call) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrDisconnected
	}
	if p.calls == nil {
		p.calls = make(map[uint64]*call)
	}
	p.seq++
	if p.seq == 0 {
		p.seq = 1
	}
	p.calls[p.seq] = c
	return p.seq, nil
}

// take removes and returns the call with id, or nil when it is gone already.
func (p *pendingTable) take(id uint64) *call {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[id]
	if !ok {
		return nil
	}
	delete(p.calls, id)
	if c.timer != nil {
		c.timer.Stop()
	}
	return c
}

// closeAll empties the table, refuses new calls and returns what was pending.
func (p *pendingTable) closeAll() []*call {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	out := make([]*call, 0, len(p.calls))
	for id, c := range p.calls {
		if c.timer != nil {
			c.timer.Stop()
		}
		out = append(out, c)
		delete(p.calls, id)
	}
	return out
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
