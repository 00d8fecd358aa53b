package ws

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Client is a websocket connector.
type Client struct {
	component.IOContext
	component.AliveTime
	component.ConnectTime
	component.UserData
	component.UserTimers

	config    *ClientConfig
	logger    asio2.Logger
	dialer    websocket.Dialer
	ownLoop   *iopool.Loop
	silence   component.SilenceTimer
	connected atomic.Bool

	mu sync.Mutex
	st *stream
	wg sync.WaitGroup

	onInit       func()
	onConnect    func(error)
	onRecv       func([]byte)
	onDisconnect func(error)
}

// NewClient creates a client. A nil config uses the defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	config.applyDefaults()
	return &Client{
		config: config,
		logger: config.Logger,
		dialer: websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
	}
}

func (c *Client) OnInit(fn func()) *Client { c.onInit = fn; return c }
func (c *Client) OnConnect(fn func(error)) *Client { c.onConnect = fn; return c }
func (c *Client) OnRecv(fn func([]byte)) *Client { c.onRecv = fn; return c }
func (c *Client) OnDisconnect(fn func(error)) *Client { c.onDisconnect = fn; return c }

// Start performs the handshake with url, a ws:// or wss:// address, and
// begins reading.
func (c *Client) Start(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.st != nil {
		c.mu.Unlock()
		return asio2.ErrAlreadyStarted
	}
	if c.config.Pool != nil {
		c.BindLoop(c.config.Pool.Next())
	} else {
		c.ownLoop = iopool.NewLoop(c.logger)
		c.BindLoop(c.ownLoop)
	}
	c.SetTimerLoop(c.Loop())
	c.mu.Unlock()

	c.runOnLoop(func() {
		if c.onInit != nil {
			c.onInit()
		}
	})
	conn, resp, err := c.dialer.DialContext(ctx, url, c.config.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warnf("ws: dial %s: %v", url, err)
		c.runOnLoop(func() {
			if c.onConnect != nil {
				c.onConnect(err)
			}
		})
		c.releaseLoop()
		return err
	}

	st := newStream(conn, c.config.streamConfig(), &c.AliveTime)
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
	c.ResetConnectTime()
	c.UpdateAliveTime()
	c.connected.Store(true)
	c.config.Observer.ConnOpened(transport)

	c.runOnLoop(func() {
		if c.onConnect != nil {
			c.onConnect(nil)
		}
	})
	c.silence.Start(&c.AliveTime, c.config.SilenceTimeout, nil, func() {
		c.logger.Infof("ws: closing silent client %s", url)
		st.closeWith(asio2.ErrSilenceTimeout)
	})

	c.wg.Add(1)
	go c.serve(st)
	return nil
}

// Stop flushes queued messages, closes the connection and waits for the
// disconnect callback.
func (c *Client) Stop() error {
	c.mu.Lock()
	st := c.st
	c.mu.Unlock()
	if st == nil {
		return asio2.ErrNotStarted
	}
	st.stop()
	c.wg.Wait()
	c.StopAllTimers()

	c.mu.Lock()
	c.st = nil
	c.mu.Unlock()
	c.releaseLoop()
	return nil
}

// Send queues p as one binary message.
func (c *Client) Send(p []byte) error {
	c.mu.Lock()
	st := c.st
	c.mu.Unlock()
	if st == nil {
		return asio2.ErrNotStarted
	}
	return st.send(p)
}

// IsStarted reports whether the connection is up.
func (c *Client) IsStarted() bool { return c.connected.Load() }

func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	return c.st.conn.RemoteAddr()
}

func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	return c.st.conn.LocalAddr()
}

func (c *Client) serve(st *stream) {
	defer c.wg.Done()
	reason := st.run(func(msg []byte) {
		if err := c.Post(func(context.Context) {
			if c.onRecv != nil {
				c.onRecv(msg)
			}
		}); err != nil {
			st.closeWith(err)
		}
	})
	c.silence.Stop()
	c.connected.Store(false)
	c.config.Observer.ConnClosed(transport)
	c.runOnLoop(func() {
		if c.onDisconnect != nil {
			c.onDisconnect(reason)
		}
	})
}

func (c *Client) runOnLoop(fn func()) {
	done := make(chan struct{})
	if err := c.Post(func(context.Context) {
		defer close(done)
		fn()
	}); err != nil {
		fn()
		return
	}
	<-done
}

func (c *Client) releaseLoop() {
	if c.ownLoop != nil {
		c.ownLoop.Close()
		c.ownLoop = nil
	}
}
