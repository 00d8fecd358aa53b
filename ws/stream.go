package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
)

const transport = "ws"

type streamConfig struct {
	sendQueueSize  int
	writeTimeout   time.Duration
	pingInterval   time.Duration
	maxMessageSize int64
	logger         asio2.Logger
	observer       asio2.Observer
}

// stream owns one websocket connection. gorilla allows a single concurrent
// writer, so every data frame goes through writeLoop.
type stream struct {
	cfg   streamConfig
	conn  *websocket.Conn
	alive *component.AliveTime

	queue  *asio2.RingBuffer[[]byte]
	signal chan struct{}

	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
	reason     error
	stopping   atomic.Bool
}

func newStream(conn *websocket.Conn, cfg streamConfig, alive *component.AliveTime) *stream {
	s := &stream{
		cfg:        cfg,
		conn:       conn,
		alive:      alive,
		queue:      asio2.NewRingBuffer[[]byte](uint64(cfg.sendQueueSize)),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	conn.SetReadLimit(cfg.maxMessageSize)
	conn.SetPongHandler(func(string) error {
		alive.UpdateAliveTime()
		return nil
	})
	return s
}

func (s *stream) send(p []byte) error {
	if s.stopping.Load() || s.isClosed() {
		return asio2.ErrNotStarted
	}
	buf := append(asio2.GetBuffer(len(p))[:0], p...)
	if !s.queue.Enqueue(buf) {
		asio2.PutBuffer(buf)
		return asio2.ErrSendQueueFull
	}
	s.wake()
	return nil
}

func (s *stream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// stop sends a close frame once the queue is drained.
func (s *stream) stop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.wake()
	}
}

func (s *stream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) closeWith(err error) {
	s.once.Do(func() {
		s.reason = err
		close(s.done)
		_ = s.conn.Close()
	})
}

// run reads binary and text messages until the connection fails.
func (s *stream) run(onMsg func([]byte)) error {
	go s.writeLoop()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.closeWith(err)
			break
		}
		s.alive.UpdateAliveTime()
		s.cfg.observer.BytesIn(transport, len(msg))
		onMsg(msg)
	}
	<-s.writerDone
	return s.reason
}

func (s *stream) writeLoop() {
	defer close(s.writerDone)
	var ping <-chan time.Time
	if s.cfg.pingInterval > 0 {
		t := time.NewTicker(s.cfg.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	var batch [][]byte
	for {
		select {
		case <-s.done:
			s.release(s.queue.DequeueAll(batch[:0]))
			return
		case <-ping:
			deadline := time.Now().Add(s.cfg.writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.closeWith(err)
			}
			continue
		case <-s.signal:
		}

		batch = s.queue.DequeueAll(batch[:0])
		if err := s.write(batch); err != nil {
			s.cfg.logger.Warnf("ws: write to %v failed: %v", s.conn.RemoteAddr(), err)
			s.closeWith(err)
			continue
		}
		if s.stopping.Load() && s.queue.Len() == 0 {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.writeTimeout))
			s.closeWith(asio2.ErrStopped)
		}
	}
}

func (s *stream) write(batch [][]byte) error {
	defer s.release(batch)
	for _, b := range batch {
		if s.cfg.writeTimeout > 0 {
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout)); err != nil {
				return err
			}
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return err
		}
		s.alive.UpdateAliveTime()
		s.cfg.observer.BytesOut(transport, len(b))
	}
	return nil
}

func (s *stream) release(batch [][]byte) {
	for i, b := range batch {
		asio2.PutBuffer(b)
		batch[i] = nil
	}
}
