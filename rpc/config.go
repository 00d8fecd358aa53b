package rpc

import (
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/tcp"
)

const (
	DefaultCallTimeout           = 5 * time.Second // default timeout of calls whose ctx has no deadline.
	DefaultMaxConcurrentHandlers = 0               // default handler concurrency means no limit.
)

// ServerConfig configures a Server. TCP.Framer is always replaced by dgram framing.
type ServerConfig struct {
	TCP                   tcp.ServerConfig
	Codec                 Codec         // argument and result codec; defaults to JSONCodec.
	CallTimeout           time.Duration // default call timeout.
	MaxConcurrentHandlers int           // maximum handlers running at once per server.
	Logger                asio2.Logger  // optional logger; also used by TCP when it has none.
}

// ClientConfig configures a Client. TCP.Framer is always replaced by dgram framing.
type ClientConfig struct {
	TCP                   tcp.ClientConfig
	Codec                 Codec
	CallTimeout           time.Duration
	MaxConcurrentHandlers int
	Logger                asio2.Logger
}

type options struct {
	codec   Codec
	timeout time.Duration
	sem     chan struct{}
	logger  asio2.Logger
}

func newOptions(codec Codec, timeout time.Duration, maxHandlers int, l asio2.Logger) *options {
	o := &options{codec: codec, timeout: timeout, logger: asio2.OrNoop(l)}
	if o.codec == nil {
		o.codec = JSONCodec{}
	}
	if o.timeout == 0 {
		o.timeout = DefaultCallTimeout
	}
	if maxHandlers > 0 {
		o.sem = make(chan struct{}, maxHandlers)
	}
	return o
}

func (c *ServerConfig) applyDefaults() *options {
	c.TCP.Framer = asio2.DgramFramer{MaxSize: c.TCP.MaxFrameSize}
	if c.TCP.Logger == nil {
		c.TCP.Logger = c.Logger
	}
	return newOptions(c.Codec, c.CallTimeout, c.MaxConcurrentHandlers, c.Logger)
}

func (c *ClientConfig) applyDefaults() *options {
	c.TCP.Framer = asio2.DgramFramer{MaxSize: c.TCP.MaxFrameSize}
	if c.TCP.Logger == nil {
		c.TCP.Logger = c.Logger
	}
	return newOptions(c.Codec, c.CallTimeout, c.MaxConcurrentHandlers, c.Logger)
}
