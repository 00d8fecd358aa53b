package ws

import (
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Session is the server side of an upgraded connection.
type Session struct {
	component.IOContext
	component.AliveTime
	component.ConnectTime
	component.UserData
	component.UserTimers

	key     uint64
	server  *Server
	request *http.Request
	st      *stream
	silence component.SilenceTimer
	started atomic.Bool
}

func newSession(srv *Server, conn *websocket.Conn, r *http.Request, key uint64, loop *iopool.Loop) *Session {
	sess := &Session{key: key, server: srv, request: r}
	sess.BindLoop(loop)
	sess.SetTimerLoop(loop)
	sess.st = newStream(conn, srv.config.streamConfig(), &sess.AliveTime)
	return sess
}

// start runs on the session loop and reports whether the session was kept.
func (sess *Session) start() bool {
	srv := sess.server
	sess.ResetConnectTime()
	sess.UpdateAliveTime()
	if srv.onAccept != nil {
		srv.onAccept(sess)
	}
	if sess.st.stopping.Load() || sess.st.isClosed() {
		return false
	}
	sess.started.Store(true)
	if srv.onConnect != nil {
		srv.onConnect(sess)
	}
	sess.silence.Start(&sess.AliveTime, srv.config.SilenceTimeout, nil, func() {
		srv.logger.Infof("ws: closing silent session %d (%v)", sess.key, sess.RemoteAddr())
		sess.st.closeWith(asio2.ErrSilenceTimeout)
	})
	return true
}

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

// Request returns the HTTP request that was upgraded.
func (sess *Session) Request() *http.Request { return sess.request }

// Send queues p as one binary message.
func (sess *Session) Send(p []byte) error { return sess.st.send(p) }

// Stop flushes queued messages, sends a close frame and closes the session.
func (sess *Session) Stop() { sess.st.stop() }

// IsStarted reports whether the session is connected.
func (sess *Session) IsStarted() bool { return sess.started.Load() && !sess.st.isClosed() }

func (sess *Session) RemoteAddr() net.Addr { return sess.st.conn.RemoteAddr() }
func (sess *Session) LocalAddr() net.Addr { return sess.st.conn.LocalAddr() }
