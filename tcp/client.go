package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Client is a TCP connector. With AutoReconnect it redials using the
// configured Retry backoff until Stop is called.
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

	mu      sync.Mutex
	started bool
	addr    string
	st      *stream
	traffic *component.TrafficConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup

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
	}
}

// OnInit is called on the client loop before every dial.
func (c *Client) OnInit(fn func()) *Client { c.onInit = fn; return c }

// OnConnect receives the result of every dial attempt.
func (c *Client) OnConnect(fn func(error)) *Client { c.onConnect = fn; return c }

// OnRecv receives every message. The slice is owned by the callee.
func (c *Client) OnRecv(fn func([]byte)) *Client { c.onRecv = fn; return c }

// OnDisconnect is called once per established connection with the close reason.
func (c *Client) OnDisconnect(fn func(error)) *Client { c.onDisconnect = fn; return c }

// Start dials addr and waits for the result. When the dial fails and
// AutoReconnect is set the client keeps retrying in the background and the
// error is still returned; call Stop to give up.
func (c *Client) Start(ctx context.Context, addr string) error {
	runCtx, err := c.begin(addr)
	if err != nil {
		return err
	}
	err = c.connect(ctx, runCtx, addr)
	if err == nil {
		return nil
	}
	if c.config.AutoReconnect {
		c.wg.Add(1)
		go c.reconnectLoop(runCtx, 0)
		return err
	}
	_ = c.Stop()
	return err
}

// AsyncStart dials addr in the background. The outcome is reported to
// OnConnect. Stop releases the client even when the dial failed.
func (c *Client) AsyncStart(addr string) error {
	runCtx, err := c.begin(addr)
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.connect(runCtx, runCtx, addr); err != nil {
			if c.config.AutoReconnect {
				c.wg.Add(1)
				go c.reconnectLoop(runCtx, 0)
				return
			}
			c.mu.Lock()
			c.end()
			c.mu.Unlock()
		}
	}()
	return nil
}

func (c *Client) begin(addr string) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, asio2.ErrAlreadyStarted
	}
	if c.config.Pool != nil {
		c.BindLoop(c.config.Pool.Next())
	} else if c.ownLoop == nil {
		c.ownLoop = iopool.NewLoop(c.logger)
		c.BindLoop(c.ownLoop)
	}
	c.SetTimerLoop(c.Loop())
	ctx, cancel := context.WithCancel(context.Background())
	c.started = true
	c.addr = addr
	c.cancel = cancel
	return ctx, nil
}

// end must be called with mu held.
func (c *Client) end() {
	c.started = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Stop closes the connection, cancels reconnects and waits for the
// disconnect callback. It must not be called from a task on the client loop.
func (c *Client) Stop() error {
	c.mu.Lock()
	wasStarted := c.started
	c.end()
	st := c.st
	c.mu.Unlock()

	if st != nil {
		st.stop()
	}
	c.wg.Wait()
	c.StopAllTimers()

	// Flush callbacks still queued on the loop.
	done := make(chan struct{})
	if err := c.Post(func(context.Context) { close(done) }); err == nil {
		<-done
	}
	if c.ownLoop != nil {
		c.ownLoop.Close()
		c.ownLoop = nil
	}
	if !wasStarted {
		return asio2.ErrNotStarted
	}
	return nil
}

// Send frames p and queues it on the current connection.
func (c *Client) Send(p []byte) error {
	c.mu.Lock()
	st := c.st
	c.mu.Unlock()
	if st == nil || !c.connected.Load() {
		return asio2.ErrNotStarted
	}
	return st.send(p)
}

// IsStarted reports whether the client is connected.
func (c *Client) IsStarted() bool {
	return c.connected.Load()
}

// RemoteAddr returns the peer address of the current connection.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.traffic == nil {
		return nil
	}
	return c.traffic.RemoteAddr()
}

// LocalAddr returns the local address of the current connection.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.traffic == nil {
		return nil
	}
	return c.traffic.LocalAddr()
}

// connect dials with ctx. The connection and any reconnects it triggers
// live on runCtx.
func (c *Client) connect(ctx, runCtx context.Context, addr string) error {
	c.runOnLoop(func() {
		if c.onInit != nil {
			c.onInit()
		}
	})

	dialCtx, cancel := component.ConnectTimeout{Timeout: c.config.ConnectTimeout}.WithConnectTimeout(ctx)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.logger.Warnf("tcp: dial %s: %v", addr, err)
		c.runOnLoop(func() {
			if c.onConnect != nil {
				c.onConnect(err)
			}
		})
		c.mu.Lock()
		stopped := !c.started
		c.mu.Unlock()
		if stopped {
			return asio2.ErrStopped
		}
		return err
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		_ = conn.Close()
		return asio2.ErrStopped
	}
	if err := c.config.KeepAlive.Apply(conn); err != nil {
		c.logger.Warnf("tcp: keep-alive on %v: %v", conn.RemoteAddr(), err)
	}
	c.traffic = component.NewTrafficConn(conn)
	st := newStream(component.NewRateLimitedConn(c.traffic, c.config.RateLimit),
		c.config.streamConfig(), &c.AliveTime)
	c.st = st
	c.wg.Add(1)
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
		c.logger.Infof("tcp: closing silent connection to %s", addr)
		st.closeWith(asio2.ErrSilenceTimeout)
	})

	go c.serve(runCtx, st)
	return nil
}

func (c *Client) serve(ctx context.Context, st *stream) {
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
	_ = c.Post(func(context.Context) {
		if c.onDisconnect != nil {
			c.onDisconnect(reason)
		}
	})

	c.mu.Lock()
	again := c.started && c.config.AutoReconnect && ctx.Err() == nil
	if again {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if again {
		go c.reconnectLoop(ctx, 0)
	}
}

func (c *Client) reconnectLoop(ctx context.Context, retry uint64) {
	defer c.wg.Done()
	for {
		delay := c.config.Retry.Backoff(retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		err := c.connect(ctx, ctx, c.addr)
		if err == nil || errors.Is(err, asio2.ErrStopped) || ctx.Err() != nil {
			return
		}
		retry++
	}
}

// runOnLoop runs fn on the client loop and waits for it.
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
