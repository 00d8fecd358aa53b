package udp

import (
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/iopool"
)

const (
	DefaultSilenceTimeout  = 60 * time.Second // idle duration before a session is removed.
	DefaultReadBufferSize  = 64 * 1024        // largest datagram read at once.
	DefaultShutdownTimeout = 5 * time.Second  // grace period for shutdown wait.
)

// ServerConfig configures a Server.
type ServerConfig struct {
	SilenceTimeout  time.Duration  // idle duration before a session is removed; negative disables.
	ReadBufferSize  int            // receive buffer size.
	MaxSessions     int            // maximum concurrent sessions; zero means no limit.
	ShutdownTimeout time.Duration  // grace period for shutdown wait.
	Logger          asio2.Logger   // optional logger for server events.
	Observer        asio2.Observer // optional connection and traffic observer.
	Pool            *iopool.Pool   // loops sessions are bound to; nil means a private pool.
}

func (c *ServerConfig) applyDefaults() {
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	SilenceTimeout time.Duration  // idle duration before the client stops; zero disables.
	ReadBufferSize int            // receive buffer size.
	Logger         asio2.Logger   // optional logger for client events.
	Observer       asio2.Observer // optional traffic observer.
	Pool           *iopool.Pool   // pool the client loop is taken from; nil means a private loop.
}

func (c *ClientConfig) applyDefaults() {
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	c.Logger = asio2.OrNoop(c.Logger)
	c.Observer = asio2.ObserverOrNoop(c.Observer)
}
