// Package ws carries messages over websocket connections using the same
// session, callback and loop model as package tcp. The websocket protocol
// itself is handled by gorilla/websocket; every message is sent as a binary
// frame.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

// Server upgrades HTTP requests on the configured path and manages the
// resulting sessions.
type Server struct {
	component.IOContext

	config   *ServerConfig
	logger   asio2.Logger
	pool     *iopool.Pool
	ownPool  bool
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	sessions map[uint64]*Session
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
		config: config,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		sessions: make(map[uint64]*Session),
	}
}

func (s *Server) OnInit(fn func()) *Server { s.onInit = fn; return s }
func (s *Server) OnStart(fn func(error)) *Server { s.onStart = fn; return s }
func (s *Server) OnAccept(fn func(*Session)) *Server { s.onAccept = fn; return s }
func (s *Server) OnConnect(fn func(*Session)) *Server { s.onConnect = fn; return s }
func (s *Server) OnRecv(fn func(*Session, []byte)) *Server { s.onRecv = fn; return s }
func (s *Server) OnDisconnect(fn func(*Session, error)) *Server { s.onDisconnect = fn; return s }
func (s *Server) OnStop(fn func(error)) *Server { s.onStop = fn; return s }

// Start listens on addr and serves websocket upgrades on the configured path.
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

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveUpgrade)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: DefaultHandshake}
	s.listener = ln
	s.started.Store(true)
	s.logger.Infof("ws: server listening on %v%s", ln.Addr(), s.config.Path)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("ws: serve: %v", err)
		}
	}()
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

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.runOnLoop(func() {
		s.ForEachSession(func(sess *Session) { sess.Stop() })
	})
	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnf("ws: timeout waiting for sessions to close")
		s.ForEachSession(func(sess *Session) { sess.st.closeWith(asio2.ErrStopped) })
		<-done
	}

	s.runOnLoop(func() {
		if s.onStop != nil {
			s.onStop(err)
		}
	})
	s.logger.Infof("ws: server stopped")
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

// IsStarted reports whether the server is serving.
func (s *Server) IsStarted() bool { return s.started.Load() }

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
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

// Broadcast queues p on every session and returns how many accepted it.
func (s *Server) Broadcast(p []byte) int {
	var n int
	s.ForEachSession(func(sess *Session) {
		if err := sess.Send(p); err == nil {
			n++
		}
	})
	return n
}

// serveUpgrade runs on the net/http goroutine and keeps it as the session reader.
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.started.Load() {
		http.Error(w, asio2.ErrNotStarted.Error(), http.StatusServiceUnavailable)
		return
	}
	// Counted before the hijack so Stop cannot miss it.
	s.connWG.Add(1)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("ws: upgrade from %v: %v", r.RemoteAddr, err)
		s.connWG.Done()
		return
	}

	sess := newSession(s, conn, r, s.nextKey.Add(1), s.pool.Next())
	s.config.Observer.ConnOpened(transport)

	inserted := make(chan bool, 1)
	if err := s.Post(func(context.Context) {
		if !s.started.Load() {
			inserted <- false
			return
		}
		s.mu.Lock()
		s.sessions[sess.key] = sess
		s.mu.Unlock()
		inserted <- true
	}); err != nil {
		inserted <- false
	}
	if !<-inserted {
		sess.st.closeWith(asio2.ErrStopped)
		s.dropSession()
		return
	}

	accepted := make(chan bool, 1)
	if err := sess.Post(func(context.Context) { accepted <- sess.start() }); err != nil {
		accepted <- false
	}
	if !<-accepted {
		sess.st.closeWith(asio2.ErrStopped)
		s.removeSession(sess)
		return
	}

	reason := sess.st.run(func(msg []byte) {
		if err := sess.Post(func(context.Context) {
			if s.onRecv != nil {
				s.onRecv(sess, msg)
			}
		}); err != nil {
			sess.st.closeWith(err)
		}
	})
	if err := sess.Post(func(context.Context) {
		sess.finish(reason)
		s.removeSession(sess)
	}); err != nil {
		s.removeSession(sess)
	}
}

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
	s.config.Observer.ConnClosed(transport)
	s.connWG.Done()
}

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
