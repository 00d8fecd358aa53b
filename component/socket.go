package component

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultKeepAliveIdle     = 60 * time.Second // idle time before the first probe.
	DefaultKeepAliveInterval = 15 * time.Second // interval between probes.
	DefaultKeepAliveCount    = 3                // unanswered probes before the peer is dead.
)

// KeepAliveConfig holds TCP keep-alive options.
type KeepAliveConfig struct {
	Enable   bool
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepAlive is enabled with the Default* timings.
var DefaultKeepAlive = KeepAliveConfig{
	Enable:   true,
	Idle:     DefaultKeepAliveIdle,
	Interval: DefaultKeepAliveInterval,
	Count:    DefaultKeepAliveCount,
}

// Apply sets the options on c when it is a *net.TCPConn.
func (k KeepAliveConfig) Apply(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	if !k.Enable {
		return tc.SetKeepAlive(false)
	}
	return tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     k.Idle,
		Interval: k.Interval,
		Count:    k.Count,
	})
}

// RateLimitConfig limits the bytes per second read from and written to a
// connection. Zero means unlimited.
type RateLimitConfig struct {
	ReadBytesPerSec  int
	WriteBytesPerSec int
}

// Enabled reports whether any direction is limited.
func (r RateLimitConfig) Enabled() bool {
	return r.ReadBytesPerSec > 0 || r.WriteBytesPerSec > 0
}

type rateLimitedConn struct {
	net.Conn
	rd *rate.Limiter
	wr *rate.Limiter
}

// NewRateLimitedConn wraps c so that reads and writes respect cfg.
func NewRateLimitedConn(c net.Conn, cfg RateLimitConfig) net.Conn {
	if !cfg.Enabled() {
		return c
	}
	rc := &rateLimitedConn{Conn: c}
	if cfg.ReadBytesPerSec > 0 {
		rc.rd = rate.NewLimiter(rate.Limit(cfg.ReadBytesPerSec), cfg.ReadBytesPerSec)
	}
	if cfg.WriteBytesPerSec > 0 {
		rc.wr = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSec), cfg.WriteBytesPerSec)
	}
	return rc
}

func (c *rateLimitedConn) Read(p []byte) (int, error) {
	if c.rd == nil {
		return c.Conn.Read(p)
	}
	if len(p) > c.rd.Burst() {
		p = p[:c.rd.Burst()]
	}
	n, err := c.Conn.Read(p)
	if n > 0 {
		if werr := c.rd.WaitN(context.Background(), n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

func (c *rateLimitedConn) Write(p []byte) (int, error) {
	if c.wr == nil {
		return c.Conn.Write(p)
	}
	var written int
	for len(p) > 0 {
		chunk := min(len(p), c.wr.Burst())
		if err := c.wr.WaitN(context.Background(), chunk); err != nil {
			return written, err
		}
		n, err := c.Conn.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

// TrafficConn counts the bytes moved through a connection.
type TrafficConn struct {
	net.Conn
	in  atomic.Uint64
	out atomic.Uint64
}

// NewTrafficConn wraps c.
func NewTrafficConn(c net.Conn) *TrafficConn {
	return &TrafficConn{Conn: c}
}

func (c *TrafficConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.in.Add(uint64(n))
	return n, err
}

func (c *TrafficConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.out.Add(uint64(n))
	return n, err
}

// BytesIn returns the number of bytes read.
func (c *TrafficConn) BytesIn() uint64 { return c.in.Load() }

// BytesOut returns the number of bytes written.
func (c *TrafficConn) BytesOut() uint64 { return c.out.Load() }
