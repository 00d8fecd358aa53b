package ws

import (
	"net/http"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/iopool"
)

const (
	DefaultPath            = "/"
	DefaultBufferSize      = 4096
	DefaultSendQueueSize   = 1024
	DefaultWriteTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultMaxMessageSize  = int64(asio2.DefaultMaxFrameSize)
	DefaultHandshake       = 5 * time.Second
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Path            string                     // upgrade path served by the listener.
	ReadBufferSize  int                        // upgrader read buffer.
	WriteBufferSize int                        // upgrader write buffer.
	SendQueueSize   int                        // outgoing messages a session may queue.
	WriteTimeout    time.Duration              // maximum duration for a single write.
	SilenceTimeout  time.Duration              // idle duration before a session is closed; zero disables.
	PingInterval    time.Duration              // interval between pings; zero disables.
	MaxMessageSize  int64                      // read limit per message.
	CheckOrigin     func(r *http.Request) bool // nil accepts every origin.
	ShutdownTimeout time.Duration
	Logger          asio2.Logger
	Observer        asio2.Observer
	Pool            *iopool.Pool // nil means a private pool.
}

func (c *ServerConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultBufferSize
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}

func (c *ServerConfig) streamConfig() streamConfig {
	return streamConfig{
		sendQueueSize:  c.SendQueueSize,
		writeTimeout:   c.WriteTimeout,
		pingInterval:   c.PingInterval,
		maxMessageSize: c.MaxMessageSize,
		logger:         c.Logger,
		observer:       c.Observer,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	HandshakeTimeout time.Duration
	Header           http.Header // extra handshake headers.
	SendQueueSize    int
	WriteTimeout     time.Duration
	SilenceTimeout   time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	Logger           asio2.Logger
	Observer         asio2.Observer
	Pool             *iopool.Pool // pool the client loop is taken from; nil means a private loop.
}

func (c *ClientConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshake
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}

func (c *ClientConfig) streamConfig() streamConfig {
	return streamConfig{
		sendQueueSize:  c.SendQueueSize,
		writeTimeout:   c.WriteTimeout,
		pingInterval:   c.PingInterval,
		maxMessageSize: c.MaxMessageSize,
		logger:         c.Logger,
		observer:       c.Observer,
	}
}
