package tcp

import (
	"context"
	"net"
	"sync/atomic"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Session is the server side of an accepted connection.
type Session struct {
	component.IOContext
	component.AliveTime
	component.ConnectTime
	component.UserData
	component.UserTimers

	key     uint64
	server  *Server
	traffic *component.TrafficConn
	st      *stream
	silence component.SilenceTimer
	started atomic.Bool
}

func newSession(srv *Server, conn net.Conn, key uint64, loop *iopool.Loop) *Session {
	traffic := component.NewTrafficConn(conn)
	sess := &Session{
		key:     key,
		server:  srv,
		traffic: traffic,
	}
	sess.BindLoop(loop)
	sess.SetTimerLoop(loop)
	sess.st = newStream(component.NewRateLimitedConn(traffic, srv.config.RateLimit),
		srv.config.streamConfig(), &sess.AliveTime)
	return sess
}

// start runs on the session loop.
func (sess *Session) start() {
	srv := sess.server
	sess.ResetConnectTime()
	sess.UpdateAliveTime()
	if srv.onAccept != nil {
		srv.onAccept(sess)
	}
	if sess.st.stopping.Load() || sess.st.isClosed() {
		sess.st.closeWith(asio2.ErrStopped)
		srv.removeSession(sess)
		return
	}

	sess.started.Store(true)
	if srv.onConnect != nil {
		srv.onConnect(sess)
	}
	sess.silence.Start(&sess.AliveTime, srv.config.SilenceTimeout, nil, func() {
		srv.logger.Infof("tcp: closing silent session %d (%v)", sess.key, sess.RemoteAddr())
		sess.st.closeWith(asio2.ErrSilenceTimeout)
	})

	go func() {
		reason := sess.st.run(func(msg []byte) {
			if err := sess.Post(func(context.Context) {
				if srv.onRecv != nil {
					srv.onRecv(sess, msg)
				}
			}); err != nil {
				sess.st.closeWith(err)
			}
		})
		srv.sessionClosed(sess, reason)
	}()
}

// finish runs on the session loop after the connection is gone.
func (sess *Session) finish(reason error) {
	sess.started.Store(false)
	sess.silence.Stop()
	sess.StopAllTimers()
	if sess.server.onDisconnect != nil {
		sess.server.onDisconnect(sess, reason)
	}
}

// Key returns the identifier of the session inside its server.
func (sess *Session) Key() uint64 { return sess.key }

// Server returns the owning server.
func (sess *Session) Server() *Server { return sess.server }

// Send frames p and queues it. It does not block on the network.
func (sess *Session) Send(p []byte) error {
	return sess.st.send(p)
}

// Stop flushes queued messages and closes the session.
func (sess *Session) Stop() {
	sess.st.stop()
}

// IsStarted reports whether the session is connected.
func (sess *Session) IsStarted() bool {
	return sess.started.Load() && !sess.st.isClosed()
}

// RemoteAddr returns the peer address.
func (sess *Session) RemoteAddr() net.Addr { return sess.traffic.RemoteAddr() }

// LocalAddr returns the local address.
func (sess *Session) LocalAddr() net.Addr { return sess.traffic.LocalAddr() }

// BytesIn returns the bytes received on the connection.
func (sess *Session) BytesIn() uint64 { return sess.traffic.BytesIn() }

// BytesOut returns the bytes sent on the connection.
func (sess *Session) BytesOut() uint64 { return sess.traffic.BytesOut() }
