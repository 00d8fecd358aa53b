package component

import (
	"sync/atomic"
	"time"
)

// AliveTime records the last moment traffic was seen.
type AliveTime struct {
	last atomic.Int64
}

// UpdateAliveTime marks now as the last activity.
func (a *AliveTime) UpdateAliveTime() {
	a.last.Store(time.Now().UnixNano())
}

// LastAliveTime returns the last recorded activity, or the zero time.
func (a *AliveTime) LastAliveTime() time.Time {
	n := a.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SilenceDuration returns the time elapsed since the last activity.
func (a *AliveTime) SilenceDuration() time.Duration {
	n := a.last.Load()
	if n == 0 {
		return 0
	}
	return time.Since(time.Unix(0, n))
}

// ConnectTime records when a connection was established.
type ConnectTime struct {
	at atomic.Int64
}

// ResetConnectTime marks now as the connect moment.
func (c *ConnectTime) ResetConnectTime() {
	c.at.Store(time.Now().UnixNano())
}

// ConnectTime returns the connect moment, or the zero time.
func (c *ConnectTime) ConnectTime() time.Time {
	n := c.at.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ConnectDuration returns how long the connection has been up.
func (c *ConnectTime) ConnectDuration() time.Duration {
	n := c.at.Load()
	if n == 0 {
		return 0
	}
	return time.Since(time.Unix(0, n))
}
