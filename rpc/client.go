package rpc

import (
	"context"
	"sync/atomic"

	"github.com/zhllxt/asio2-sub011/tcp"
)

// Client is an rpc connector. With TCP.AutoReconnect every reconnect gets a
// fresh Peer; calls pending on the old one fail with ErrDisconnected.
type Client struct {
	*Router

	opts *options
	tcp  *tcp.Client
	peer atomic.Pointer[Peer]

	onConnect    func(*Peer)
	onDisconnect func(error)
}

// NewClient creates a client. A nil config uses the defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	opts := config.applyDefaults()
	c := &Client{
		Router: NewRouter(),
		opts:   opts,
		tcp:    tcp.NewClient(&config.TCP),
	}
	c.tcp.OnConnect(c.handleConnect).
		OnRecv(c.handleRecv).
		OnDisconnect(c.handleDisconnect)
	return c
}

// OnConnect is called on the client loop once a connection is up.
func (c *Client) OnConnect(fn func(*Peer)) *Client { c.onConnect = fn; return c }

// OnDisconnect is called after the pending calls of a lost connection failed.
func (c *Client) OnDisconnect(fn func(error)) *Client { c.onDisconnect = fn; return c }

// TCP returns the underlying tcp client.
func (c *Client) TCP() *tcp.Client { return c.tcp }

// Start connects to addr.
func (c *Client) Start(ctx context.Context, addr string) error { return c.tcp.Start(ctx, addr) }

// Stop closes the connection.
func (c *Client) Stop() error { return c.tcp.Stop() }

// Peer returns the peer of the current connection.
func (c *Client) Peer() (*Peer, bool) {
	p := c.peer.Load()
	return p, p != nil
}

// Call invokes method on the server.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	p := c.peer.Load()
	if p == nil {
		return ErrDisconnected
	}
	return p.Call(ctx, method, args, reply)
}

// AsyncCall invokes method on the server without blocking.
func (c *Client) AsyncCall(method string, args, reply any, cb func(error)) {
	p := c.peer.Load()
	if p == nil {
		if cb != nil {
			cb(ErrDisconnected)
		}
		return
	}
	p.AsyncCall(method, args, reply, cb)
}

// Notify sends a one way message to the server.
func (c *Client) Notify(method string, args any) error {
	p := c.peer.Load()
	if p == nil {
		return ErrDisconnected
	}
	return p.Notify(method, args)
}

func (c *Client) handleConnect(err error) {
	if err != nil {
		return
	}
	p := newPeer(0, c.tcp, c.tcp.Loop(), c.Router, c.opts)
	c.peer.Store(p)
	if c.onConnect != nil {
		c.onConnect(p)
	}
}

func (c *Client) handleRecv(msg []byte) {
	if p := c.peer.Load(); p != nil {
		p.handle(msg)
	}
}

func (c *Client) handleDisconnect(reason error) {
	if p := c.peer.Swap(nil); p != nil {
		p.close()
	}
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}
