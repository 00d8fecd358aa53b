// Package rpc adds request/response correlation on top of tcp connections.
//
// Every frame carries a request id; responses may arrive in any order and
// are matched back to the waiting call. Both ends of a connection are a Peer
// and may call each other.
package rpc

import (
	"context"
	"net"
	"sync"

	"github.com/zhllxt/asio2-sub011/tcp"
)

// Server accepts rpc connections.
type Server struct {
	*Router

	opts *options
	tcp  *tcp.Server

	mu    sync.RWMutex
	peers map[uint64]*Peer

	onConnect    func(*Peer)
	onDisconnect func(*Peer, error)
}

// NewServer creates a server. A nil config uses the defaults.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = &ServerConfig{}
	}
	opts := config.applyDefaults()
	s := &Server{
		Router: NewRouter(),
		opts:   opts,
		tcp:    tcp.NewServer(&config.TCP),
		peers:  make(map[uint64]*Peer),
	}
	s.tcp.OnConnect(s.handleConnect).
		OnRecv(s.handleRecv).
		OnDisconnect(s.handleDisconnect)
	return s
}

// OnConnect is called on the connection loop for every new peer.
func (s *Server) OnConnect(fn func(*Peer)) *Server { s.onConnect = fn; return s }

// OnDisconnect is called once per peer after its pending calls have failed.
func (s *Server) OnDisconnect(fn func(*Peer, error)) *Server { s.onDisconnect = fn; return s }

// TCP returns the underlying tcp server.
func (s *Server) TCP() *tcp.Server { return s.tcp }

// Start listens on addr.
func (s *Server) Start(addr string) error { return s.tcp.Start(addr) }

// Stop closes every connection. Pending calls fail with ErrDisconnected.
func (s *Server) Stop() error { return s.tcp.Stop() }

// Addr returns the listener address.
func (s *Server) Addr() net.Addr { return s.tcp.Addr() }

// FindPeer returns the peer of the session with key.
func (s *Server) FindPeer(key uint64) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[key]
	return p, ok
}

// ForEachPeer calls fn for a snapshot of the connected peers.
func (s *Server) ForEachPeer(fn func(*Peer)) {
	s.mu.RLock()
	snapshot := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		snapshot = append(snapshot, p)
	}
	s.mu.RUnlock()
	for _, p := range snapshot {
		fn(p)
	}
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Call invokes method on the peer with key.
func (s *Server) Call(ctx context.Context, key uint64, method string, args, reply any) error {
	p, ok := s.FindPeer(key)
	if !ok {
		return ErrDisconnected
	}
	return p.Call(ctx, method, args, reply)
}

// NotifyAll sends a notification to every peer and returns how many accepted it.
func (s *Server) NotifyAll(method string, args any) int {
	var n int
	s.ForEachPeer(func(p *Peer) {
		if p.Notify(method, args) == nil {
			n++
		}
	})
	return n
}

func (s *Server) handleConnect(sess *tcp.Session) {
	p := newPeer(sess.Key(), sess, sess.Loop(), s.Router, s.opts)
	s.mu.Lock()
	s.peers[sess.Key()] = p
	s.mu.Unlock()
	if s.onConnect != nil {
		s.onConnect(p)
	}
}

func (s *Server) handleRecv(sess *tcp.Session, msg []byte) {
	if p, ok := s.FindPeer(sess.Key()); ok {
		p.handle(msg)
	}
}

func (s *Server) handleDisconnect(sess *tcp.Session, reason error) {
	s.mu.Lock()
	p, ok := s.peers[sess.Key()]
	delete(s.peers, sess.Key())
	s.mu.Unlock()
	if !ok {
		return
	}
	p.close()
	if s.onDisconnect != nil {
		s.onDisconnect(p, reason)
	}
}
