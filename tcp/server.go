// Package tcp provides the stream acceptor and connector: a Server handing
// out Sessions and a Client with optional reconnect. A connection is bound
// to one loop of an iopool.Pool and every callback for it runs there.
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
	"golang.org/x/time/rate"
)

// Server accepts TCP connections and manages their sessions.
type Server struct {
	component.IOContext

	config  *ServerConfig
	logger  asio2.Logger
	pool    *iopool.Pool
	ownPool bool

	listener      net.Listener
	acceptLimiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[uint64]*Session
	count    atomic.Int32
	nextKey  atomic.Uint64

	started atomic.Bool
	connWG  sync.WaitGroup
	stopMu  sync.Mutex

	onInit       func()
	onStart      func(error)
	onAccept     func(*Session)
	onConnect    func(*Session)
	onRecv       func(*Session, []byte)
	onDisconnect func(*Session, error)
	onStop       func(error)
}

// NewServer creates a server. A nil config uses the defaults.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = &ServerConfig{}
	}
	config.applyDefaults()
	return &Server{
		config:   config,
		logger:   config.Logger,
		sessions: make(map[uint64]*Session),
	}
}

// OnInit is called on the server loop before the listener is opened.
func (s *Server) OnInit(fn func()) *Server { s.onInit = fn; return s }

// OnStart receives the result of opening the listener.
func (s *Server) OnStart(fn func(error)) *Server { s.onStart = fn; return s }

// OnAccept is called for a new session before OnConnect. Calling
// Session.Stop here rejects the connection.
func (s *Server) OnAccept(fn func(*Session)) *Server { s.onAccept = fn; return s }

// OnConnect is called once a session starts reading.
func (s *Server) OnConnect(fn func(*Session)) *Server { s.onConnect = fn; return s }

// OnRecv receives every message. The slice is owned by the callee.
func (s *Server) OnRecv(fn func(*Session, []byte)) *Server { s.onRecv = fn; return s }

// OnDisconnect is called exactly once per connected session with the close reason.
func (s *Server) OnDisconnect(fn func(*Session, error)) *Server { s.onDisconnect = fn; return s }

// OnStop is called on the server loop after every session is gone.
func (s *Server) OnStop(fn func(error)) *Server { s.onStop = fn; return s }

// Start listens on addr and begins accepting. It must not be called from a
// loop task of the server's pool.
func (s *Server) Start(addr string) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.started.Load() {
		return asio2.ErrAlreadyStarted
	}

	s.pool, s.ownPool = s.config.Pool, false
	if s.pool == nil {
		s.pool, s.ownPool = iopool.NewPool(0, s.logger), true
		if err := s.pool.Start(); err != nil {
			return err
		}
	}
	s.BindLoop(s.pool.At(0))
	if s.config.AcceptRate > 0 {
		burst := max(1, int(s.config.AcceptRate))
		s.acceptLimiter = rate.NewLimiter(rate.Limit(s.config.AcceptRate), burst)
	}

	s.runOnLoop(func() {
		if s.onInit != nil {
			s.onInit()
		}
	})

	ln, err := net.Listen("tcp", addr)
	s.runOnLoop(func() {
		if s.onStart != nil {
			s.onStart(err)
		}
	})
	if err != nil {
		s.releasePool()
		return err
	}

	s.listener = ln
	s.started.Store(true)
	s.logger.Infof("tcp: server listening on %v", ln.Addr())

	s.connWG.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener, stops every session and waits for their
// disconnect callbacks, bounded by ShutdownTimeout.
func (s *Server) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if !s.started.CompareAndSwap(true, false) {
		return asio2.ErrNotStarted
	}

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	// Serialized with pending session inserts.
	s.runOnLoop(func() {
		s.ForEachSession(func(sess *Session) { sess.Stop() })
	})

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	if s.config.ShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warnf("tcp: timeout waiting for sessions to close")
			s.ForEachSession(func(sess *Session) { sess.st.closeWith(asio2.ErrStopped) })
			<-done
		}
	} else {
		<-done
	}

	s.runOnLoop(func() {
		if s.onStop != nil {
			s.onStop(err)
		}
	})
	s.logger.Infof("tcp: server stopped")
	s.releasePool()
	return err
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if !s.started.Load() || s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsStarted reports whether the server is accepting.
func (s *Server) IsStarted() bool {
	return s.started.Load()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return int(s.count.Load())
}

// FindSession returns the session with key.
func (s *Server) FindSession(key uint64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// ForEachSession calls fn for a snapshot of the live sessions.
func (s *Server) ForEachSession(fn func(*Session)) {
	s.mu.RLock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.mu.RUnlock()
	for _, sess := range snapshot {
		fn(sess)
	}
}

// Broadcast sends p to every session and returns how many accepted it.
func (s *Server) Broadcast(p []byte) int {
	var n int
	s.ForEachSession(func(sess *Session) {
		if err := sess.Send(p); err == nil {
			n++
		}
	})
	return n
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.connWG.Done()
	var retry uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.started.Load() {
				return
			}
			//nolint:staticcheck // Temporary is the only signal for EMFILE style errors.
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				delay := asio2.DefaultRetry.Backoff(retry)
				s.logger.Errorf("tcp: accept error: %v; retrying in %v", err, delay)
				time.Sleep(delay)
				retry++
				continue
			}
			s.logger.Errorf("tcp: accept error: %v", err)
			return
		}
		retry = 0

		if s.config.MaxConns > 0 && s.SessionCount() >= s.config.MaxConns {
			s.logger.Warnf("tcp: refusing %v: %v", conn.RemoteAddr(), asio2.ErrMaxConnsReached)
			_ = conn.Close()
			continue
		}
		if s.acceptLimiter != nil && !s.acceptLimiter.Allow() {
			s.logger.Warnf("tcp: refusing %v: accept rate exceeded", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		s.handleNewConnection(conn)
	}
}

func (s *Server) handleNewConnection(conn net.Conn) {
	if err := s.config.KeepAlive.Apply(conn); err != nil {
		s.logger.Warnf("tcp: keep-alive on %v: %v", conn.RemoteAddr(), err)
	}
	sess := newSession(s, conn, s.nextKey.Add(1), s.pool.Next())
	s.count.Add(1)
	s.connWG.Add(1)
	s.config.Observer.ConnOpened(transport)

	add := func(context.Context) {
		if !s.started.Load() {
			sess.st.closeWith(asio2.ErrStopped)
			s.dropSession()
			return
		}
		s.mu.Lock()
		s.sessions[sess.key] = sess
		s.mu.Unlock()
		if err := sess.Post(func(context.Context) { sess.start() }); err != nil {
			s.logger.Warnf("tcp: session %d dropped: %v", sess.key, err)
			sess.st.closeWith(err)
			s.removeSession(sess)
		}
	}
	if err := s.Post(add); err != nil {
		sess.st.closeWith(err)
		s.dropSession()
	}
}

func (s *Server) sessionClosed(sess *Session, reason error) {
	if err := sess.Post(func(context.Context) {
		sess.finish(reason)
		s.removeSession(sess)
	}); err != nil {
		sess.finish(reason)
		s.removeSession(sess)
	}
}

// removeSession runs on the server loop when it is available.
func (s *Server) removeSession(sess *Session) {
	remove := func(context.Context) {
		s.mu.Lock()
		delete(s.sessions, sess.key)
		s.mu.Unlock()
		s.dropSession()
	}
	if err := s.Post(remove); err != nil {
		remove(context.Background())
	}
}

func (s *Server) dropSession() {
	s.count.Add(-1)
	s.config.Observer.ConnClosed(transport)
	s.connWG.Done()
}

// runOnLoop runs fn on the server loop and waits for it.
func (s *Server) runOnLoop(fn func()) {
	done := make(chan struct{})
	if err := s.Post(func(context.Context) {
		defer close(done)
		fn()
	}); err != nil {
		fn()
		return
	}
	<-done
}

func (s *Server) releasePool() {
	if s.ownPool {
		s.pool.Stop()
	}
}
