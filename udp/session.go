package udp

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Session is one remote peer of a Server.
type Session struct {
	component.IOContext
	component.AliveTime
	component.ConnectTime
	component.UserData
	component.UserTimers

	key     uint64
	addr    netip.AddrPort
	server  *Server
	silence component.SilenceTimer

	once      sync.Once
	closed    atomic.Bool
	connected atomic.Bool
}

func newSession(srv *Server, addr netip.AddrPort, key uint64, loop *iopool.Loop) *Session {
	sess := &Session{key: key, addr: addr, server: srv}
	sess.BindLoop(loop)
	sess.SetTimerLoop(loop)
	sess.ResetConnectTime()
	sess.UpdateAliveTime()
	return sess
}

// start runs on the session loop.
func (sess *Session) start() {
	srv := sess.server
	if srv.onAccept != nil {
		srv.onAccept(sess)
	}
	if sess.closed.Load() {
		return
	}
	sess.connected.Store(true)
	if srv.onConnect != nil {
		srv.onConnect(sess)
	}
	if srv.config.SilenceTimeout > 0 {
		sess.silence.Start(&sess.AliveTime, srv.config.SilenceTimeout, nil, func() {
			srv.logger.Infof("udp: removing silent session %v", sess.addr)
			sess.stopWith(asio2.ErrSilenceTimeout)
		})
	}
}

func (sess *Session) deliver(msg []byte) {
	if sess.closed.Load() {
		return
	}
	sess.UpdateAliveTime()
	sess.server.config.Observer.BytesIn(transport, len(msg))
	if err := sess.Post(func(context.Context) {
		if sess.closed.Load() || !sess.connected.Load() {
			return
		}
		if sess.server.onRecv != nil {
			sess.server.onRecv(sess, msg)
		}
	}); err != nil {
		sess.stopWith(err)
	}
}

func (sess *Session) stopWith(reason error) {
	sess.once.Do(func() {
		sess.closed.Store(true)
		sess.silence.Stop()
		finish := func(context.Context) {
			sess.StopAllTimers()
			if sess.connected.Swap(false) && sess.server.onDisconnect != nil {
				sess.server.onDisconnect(sess, reason)
			}
			sess.server.removeSession(sess)
		}
		if err := sess.Post(finish); err != nil {
			finish(context.Background())
		}
	})
}

// Key returns the identifier of the session inside its server.
func (sess *Session) Key() uint64 { return sess.key }

// Server returns the owning server.
func (sess *Session) Server() *Server { return sess.server }

// Send writes p as one datagram to the peer.
func (sess *Session) Send(p []byte) error {
	if sess.closed.Load() {
		return asio2.ErrNotStarted
	}
	n, err := sess.server.conn.WriteToUDPAddrPort(p, sess.addr)
	if err != nil {
		return err
	}
	sess.UpdateAliveTime()
	sess.server.config.Observer.BytesOut(transport, n)
	return nil
}

// Stop removes the session. A later datagram from the same peer opens a new one.
func (sess *Session) Stop() {
	sess.stopWith(asio2.ErrStopped)
}

// IsStarted reports whether the session is live.
func (sess *Session) IsStarted() bool {
	return sess.connected.Load() && !sess.closed.Load()
}

// RemoteAddr returns the peer address.
func (sess *Session) RemoteAddr() net.Addr {
	return net.UDPAddrFromAddrPort(sess.addr)
}

// LocalAddr returns the server socket address.
func (sess *Session) LocalAddr() net.Addr {
	return sess.server.conn.LocalAddr()
}
