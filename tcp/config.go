package tcp

import (
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

const (
	DefaultSendQueueSize   = 1024            // default per connection outgoing queue length.
	DefaultReadBufferSize  = 4096            // default initial read buffer size.
	DefaultWriteTimeout    = 5 * time.Second // default write timeout duration.
	DefaultShutdownTimeout = 5 * time.Second // default shutdown timeout duration.
	DefaultSilenceTimeout  = 0 * time.Second // default silence timeout disables idle closure.
	DefaultMaxConns        = 0               // default max connections means no limit.
	DefaultConnectTimeout  = 5 * time.Second // default client connect timeout.
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Framer          asio2.Framer               // message framing; defaults to a 2 byte length prefix.
	MaxFrameSize    int                        // largest accepted message; defaults to asio2.DefaultMaxFrameSize.
	ReadBufferSize  int                        // initial read buffer size.
	SendQueueSize   int                        // outgoing messages a session may queue.
	WriteTimeout    time.Duration              // maximum duration for a single write.
	SilenceTimeout  time.Duration              // idle duration before a session is closed.
	KeepAlive       *component.KeepAliveConfig // TCP keep-alive; nil means component.DefaultKeepAlive.
	RateLimit       component.RateLimitConfig  // per session bandwidth.
	AcceptRate      float64                    // accepted connections per second; zero means unlimited.
	MaxConns        int                        // maximum concurrent sessions allowed.
	ShutdownTimeout time.Duration              // grace period for shutdown wait.
	Logger          asio2.Logger               // optional logger for server events.
	Observer        asio2.Observer             // optional connection and traffic observer.
	Pool            *iopool.Pool               // loops sessions are bound to; nil means a private pool.
}

func (c *ServerConfig) applyDefaults() {
	if c.Framer == nil {
		c.Framer = asio2.LengthPrefixFramer{MaxSize: c.MaxFrameSize}
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.KeepAlive == nil {
		ka := component.DefaultKeepAlive
		c.KeepAlive = &ka
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}

func (c *ServerConfig) streamConfig() streamConfig {
	return streamConfig{
		framer:        c.Framer,
		maxFrameSize:  c.MaxFrameSize,
		readBufSize:   c.ReadBufferSize,
		sendQueueSize: c.SendQueueSize,
		writeTimeout:  c.WriteTimeout,
		logger:        c.Logger,
		observer:      c.Observer,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Framer         asio2.Framer               // message framing; defaults to a 2 byte length prefix.
	MaxFrameSize   int                        // largest accepted message.
	ReadBufferSize int                        // initial read buffer size.
	SendQueueSize  int                        // outgoing messages that may be queued.
	WriteTimeout   time.Duration              // maximum duration for a single write.
	SilenceTimeout time.Duration              // idle duration before the connection is closed.
	ConnectTimeout time.Duration              // dial timeout.
	KeepAlive      *component.KeepAliveConfig // TCP keep-alive; nil means component.DefaultKeepAlive.
	RateLimit      component.RateLimitConfig  // bandwidth.
	AutoReconnect  bool                       // redial after a connection is lost or a dial fails.
	Retry          asio2.Retry                // reconnect backoff; nil means asio2.DefaultRetry.
	Logger         asio2.Logger               // optional logger for client events.
	Observer       asio2.Observer             // optional connection and traffic observer.
	Pool           *iopool.Pool               // pool the client loop is taken from; nil means a private loop.
}

func (c *ClientConfig) applyDefaults() {
	if c.Framer == nil {
		c.Framer = asio2.LengthPrefixFramer{MaxSize: c.MaxFrameSize}
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAlive == nil {
		ka := component.DefaultKeepAlive
		c.KeepAlive = &ka
	}
	if c.Retry == nil {
		c.Retry = asio2.DefaultRetry
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}

func (c *ClientConfig) streamConfig() streamConfig {
	return streamConfig{
		framer:        c.Framer,
		maxFrameSize:  c.MaxFrameSize,
		readBufSize:   c.ReadBufferSize,
		sendQueueSize: c.SendQueueSize,
		writeTimeout:  c.WriteTimeout,
		logger:        c.Logger,
		observer:      c.Observer,
	}
}
