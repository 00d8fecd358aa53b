package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/juju/errors"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// sender is the connection a Peer writes to: a tcp.Session or tcp.Client.
type sender interface {
	Send(p []byte) error
	RemoteAddr() net.Addr
}

type peerKey struct{}

// PeerFromContext returns the peer that issued the request being handled.
func PeerFromContext(ctx context.Context) (*Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(*Peer)
	return p, ok
}

// Peer is one end of an rpc connection. Both sides may issue calls.
type Peer struct {
	key     uint64
	conn    sender
	loop    *iopool.Loop
	router  *Router
	codec   Codec
	timeout time.Duration
	sem     chan struct{}
	logger  asio2.Logger
	pending pendingTable

	// ctx is the parent of every handler ctx; close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

func newPeer(key uint64, conn sender, loop *iopool.Loop, router *Router, o *options) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		ctx:     ctx,
		cancel:  cancel,
		key:     key,
		conn:    conn,
		loop:    loop,
		router:  router,
		codec:   o.codec,
		timeout: o.timeout,
		sem:     o.sem,
		logger:  o.logger,
	}
}

// Key returns the session key on servers and 0 on clients.
func (p *Peer) Key() uint64 { return p.key }

// RemoteAddr returns the address of the other side.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Pending returns the number of calls awaiting a response.
func (p *Peer) Pending() int { return p.pending.len() }

// Call invokes method and decodes the result into reply, which may be nil.
// Without a deadline on ctx the default call timeout applies. An expired
// deadline is reported as ErrTimeout wrapping the ctx error. Call must not
// be used from a task running on the connection loop; use AsyncCall there.
func (p *Peer) Call(ctx context.Context, method string, args, reply any) error {
	if p.loop != nil && p.loop.Contains(ctx) {
		return ErrCallInLoop
	}
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	id, err := p.start(method, args, &call{
		method: method,
		reply:  reply,
		done:   func(err error) { done <- err },
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if p.pending.take(id) != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return ctx.Err()
		}
		// The response won the race.
		return <-done
	}
}

// AsyncCall invokes method without blocking. cb runs on the connection loop
// with the outcome; it is never called more than once.
func (p *Peer) AsyncCall(method string, args, reply any, cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	c := &call{method: method, reply: reply, done: cb}
	id, err := p.start(method, args, c)
	if err != nil {
		p.post(func() { cb(err) })
		return
	}
	if p.timeout > 0 {
		timer := time.AfterFunc(p.timeout, func() {
			if p.pending.take(id) != nil {
				p.post(func() { cb(ErrTimeout) })
			}
		})
		p.pending.mu.Lock()
		if _, ok := p.pending.calls[id]; ok {
			c.timer = timer
		} else {
			timer.Stop()
		}
		p.pending.mu.Unlock()
	}
}

// Notify sends a one way message. No response is produced.
func (p *Peer) Notify(method string, args any) error {
	body, err := p.codec.Marshal(args)
	if err != nil {
		return errors.Annotatef(err, "encode arguments of %s", method)
	}
	buf, err := appendRequest(nil, 0, method, body)
	if err != nil {
		return err
	}
	return p.conn.Send(buf)
}

func (p *Peer) start(method string, args any, c *call) (uint64, error) {
	body, err := p.codec.Marshal(args)
	if err != nil {
		return 0, errors.Annotatef(err, "encode arguments of %s", method)
	}
	id, err := p.pending.add(c)
	if err != nil {
		return 0, err
	}
	buf, err := appendRequest(nil, id, method, body)
	if err == nil {
		err = p.conn.Send(buf)
	}
	if err != nil {
		p.pending.take(id)
		return 0, err
	}
	return id, nil
}

func (p *Peer) post(fn func()) {
	if p.loop == nil {
		fn()
		return
	}
	if err := p.loop.Post(func(context.Context) { fn() }); err != nil {
		fn()
	}
}

// handle runs on the connection loop for every received message.
func (p *Peer) handle(msg []byte) {
	f, err := parseFrame(msg)
	if err != nil {
		p.logger.Warnf("rpc: dropping frame from %v: %v", p.RemoteAddr(), err)
		return
	}
	switch f.kind {
	case kindResponse:
		p.handleResponse(f)
	case kindRequest:
		p.handleRequest(f)
	}
}

func (p *Peer) handleResponse(f frame) {
	c := p.pending.take(f.id)
	if c == nil {
		// Late response after timeout or cancellation.
		return
	}
	switch f.status {
	case statusOK:
		var err error
		if c.reply != nil {
			if err = p.codec.Unmarshal(f.body, c.reply); err != nil {
				err = errors.Annotatef(err, "decode result of %s", c.method)
			}
		}
		c.done(err)
	case statusNotFound:
		c.done(fmt.Errorf("%w: %s", ErrMethodNotFound, c.method))
	default:
		c.done(RemoteError(f.body))
	}
}

func (p *Peer) handleRequest(f frame) {
	h, ok := p.router.lookup(f.method)
	if !ok {
		p.logger.Warnf("rpc: %v called unknown method %q", p.RemoteAddr(), f.method)
		p.reply(f.id, statusNotFound, []byte(ErrMethodNotFound.Error()))
		return
	}

	go func() {
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		ctx := context.WithValue(p.ctx, peerKey{}, p)
		out, err := p.invoke(ctx, h, f)
		if err != nil {
			p.logger.Warnf("rpc: handler %s failed: %v", f.method, err)
			p.reply(f.id, statusError, []byte(err.Error()))
			return
		}
		p.reply(f.id, statusOK, out)
	}()
}

func (p *Peer) invoke(ctx context.Context, h Handler, f frame) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", f.method, r)
		}
	}()
	return h(ctx, p.codec, f.body)
}

func (p *Peer) reply(id uint64, status byte, body []byte) {
	if id == 0 {
		return
	}
	if err := p.conn.Send(appendResponse(nil, id, status, body)); err != nil {
		p.logger.Warnf("rpc: sending response %d to %v: %v", id, p.RemoteAddr(), err)
	}
}

// close fails every pending call with ErrDisconnected and cancels running
// handlers. It runs on the loop.
func (p *Peer) close() {
	p.cancel()
	for _, c := range p.pending.closeAll() {
		c.done(ErrDisconnected)
	}
}
