package udp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Client is a connected datagram socket.
type Client struct {
	component.IOContext
	component.AliveTime
	component.ConnectTime
	component.UserData
	component.UserTimers

	config    *ClientConfig
	logger    asio2.Logger
	ownLoop   *iopool.Loop
	silence   component.SilenceTimer
	connected atomic.Bool

	mu     sync.Mutex
	conn   net.Conn
	once   *sync.Once
	reason error
	wg     sync.WaitGroup

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
	return &Client{config: config, logger: config.Logger}
}

func (c *Client) OnInit(fn func()) *Client { c.onInit = fn; return c }
func (c *Client) OnConnect(fn func(error)) *Client { c.onConnect = fn; return c }
func (c *Client) OnRecv(fn func([]byte)) *Client { c.onRecv = fn; return c }
func (c *Client) OnDisconnect(fn func(error)) *Client { c.onDisconnect = fn; return c }

// Start connects the socket to addr and begins reading.
func (c *Client) Start(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return asio2.ErrAlreadyStarted
	}
	if c.config.Pool != nil {
		c.BindLoop(c.config.Pool.Next())
	} else if c.ownLoop == nil {
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
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	c.runOnLoop(func() {
		if c.onConnect != nil {
			c.onConnect(err)
		}
	})
	if err != nil {
		c.logger.Warnf("udp: dial %s: %v", addr, err)
		c.releaseLoop()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.once = new(sync.Once)
	c.reason = nil
	c.mu.Unlock()
	c.ResetConnectTime()
	c.UpdateAliveTime()
	c.connected.Store(true)
	c.config.Observer.ConnOpened(transport)

	c.silence.Start(&c.AliveTime, c.config.SilenceTimeout, nil, func() {
		c.logger.Infof("udp: closing silent client %s", addr)
		c.closeWith(asio2.ErrSilenceTimeout)
	})

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

// Stop closes the socket and waits for the disconnect callback.
func (c *Client) Stop() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return asio2.ErrNotStarted
	}
	c.closeWith(asio2.ErrStopped)
	c.wg.Wait()
	c.StopAllTimers()

	done := make(chan struct{})
	if err := c.Post(func(context.Context) { close(done) }); err == nil {
		<-done
	}
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.releaseLoop()
	return nil
}

// Send writes p as one datagram.
func (c *Client) Send(p []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return asio2.ErrNotStarted
	}
	n, err := conn.Write(p)
	if err != nil {
		return err
	}
	c.UpdateAliveTime()
	c.config.Observer.BytesOut(transport, n)
	return nil
}

// IsStarted reports whether the socket is open.
func (c *Client) IsStarted() bool { return c.connected.Load() }

// LocalAddr returns the local socket address.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Client) closeWith(err error) {
	c.mu.Lock()
	once, conn := c.once, c.conn
	c.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		c.mu.Lock()
		c.reason = err
		c.mu.Unlock()
		_ = conn.Close()
	})
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			c.closeWith(err)
			break
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		c.UpdateAliveTime()
		c.config.Observer.BytesIn(transport, n)
		if err := c.Post(func(context.Context) {
			if c.onRecv != nil {
				c.onRecv(msg)
			}
		}); err != nil {
			c.closeWith(err)
			break
		}
	}

	c.silence.Stop()
	c.connected.Store(false)
	c.config.Observer.ConnClosed(transport)
	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()
	_ = c.Post(func(context.Context) {
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
