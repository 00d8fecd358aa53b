// Package udp provides a datagram server that demultiplexes peers into
// sessions by remote address, and a connected datagram client. One datagram
// is one message.
package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

const transport = "udp"

// Server receives datagrams on one socket and routes them to per peer sessions.
type Server struct {
	component.IOContext

	config  *ServerConfig
	logger  asio2.Logger
	pool    *iopool.Pool
	ownPool bool
	conn    *net.UDPConn

	// sessions is written by the read goroutine (insert) and the server loop (delete).
	mu       sync.RWMutex
	sessions map[netip.AddrPort]*Session
	nextKey  atomic.Uint64

	started atomic.Bool
	stopMu  sync.Mutex
	wg      sync.WaitGroup

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
		sessions: make(map[netip.AddrPort]*Session),
	}
}

func (s *Server) OnInit(fn func()) *Server { s.onInit = fn; return s }
func (s *Server) OnStart(fn func(error)) *Server { s.onStart = fn; return s }
func (s *Server) OnAccept(fn func(*Session)) *Server { s.onAccept = fn; return s }
func (s *Server) OnConnect(fn func(*Session)) *Server { s.onConnect = fn; return s }
func (s *Server) OnRecv(fn func(*Session, []byte)) *Server { s.onRecv = fn; return s }
func (s *Server) OnDisconnect(fn func(*Session, error)) *Server { s.onDisconnect = fn; return s }
func (s *Server) OnStop(fn func(error)) *Server { s.onStop = fn; return s }

// Start binds addr and begins reading.
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

	var conn *net.UDPConn
	pc, err := net.ListenPacket("udp", addr)
	if err == nil {
		conn = pc.(*net.UDPConn)
	}
	s.runOnLoop(func() {
		if s.onStart != nil {
			s.onStart(err)
		}
	})
	if err != nil {
		s.releasePool()
		return err
	}

	s.conn = conn
	s.started.Store(true)
	s.logger.Infof("udp: server listening on %v", conn.LocalAddr())

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Stop closes the socket, stops every session and waits for their
// disconnect callbacks, bounded by ShutdownTimeout.
func (s *Server) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if !s.started.CompareAndSwap(true, false) {
		return asio2.ErrNotStarted
	}

	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.ForEachSession(func(sess *Session) { sess.Stop() })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warnf("udp: timeout waiting for sessions to close")
	}

	s.runOnLoop(func() {
		if s.onStop != nil {
			s.onStop(err)
		}
	})
	s.logger.Infof("udp: server stopped")
	s.releasePool()
	return err
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if !s.started.Load() || s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// IsStarted reports whether the server is reading.
func (s *Server) IsStarted() bool { return s.started.Load() }

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// FindSession returns the session bound to the remote address addr.
func (s *Server) FindSession(addr netip.AddrPort) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[addr]
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

// Broadcast sends p to every session and returns how many writes succeeded.
func (s *Server) Broadcast(p []byte) int {
	var n int
	s.ForEachSession(func(sess *Session) {
		if err := sess.Send(p); err == nil {
			n++
		}
	})
	return n
}

func (s *Server) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.started.Load() {
				return
			}
			s.logger.Warnf("udp: read error: %v", err)
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])

		if sess := s.sessionFor(addr); sess != nil {
			sess.deliver(msg)
		}
	}
}

func (s *Server) sessionFor(addr netip.AddrPort) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[addr]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	if sess, ok = s.sessions[addr]; ok {
		s.mu.Unlock()
		return sess
	}
	if !s.started.Load() {
		s.mu.Unlock()
		return nil
	}
	if s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions {
		s.mu.Unlock()
		s.logger.Warnf("udp: dropping datagram from %v: %v", addr, asio2.ErrMaxConnsReached)
		return nil
	}
	sess = newSession(s, addr, s.nextKey.Add(1), s.pool.Next())
	s.sessions[addr] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	s.config.Observer.ConnOpened(transport)
	if err := sess.Post(func(context.Context) { sess.start() }); err != nil {
		sess.stopWith(err)
	}
	return sess
}

// removeSession runs on the server loop when it is available.
func (s *Server) removeSession(sess *Session) {
	remove := func(context.Context) {
		s.mu.Lock()
		if cur, ok := s.sessions[sess.addr]; ok && cur == sess {
			delete(s.sessions, sess.addr)
		}
		s.mu.Unlock()
		s.config.Observer.ConnClosed(transport)
		s.wg.Done()
	}
	if err := s.Post(remove); err != nil {
		remove(context.Background())
	}
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
