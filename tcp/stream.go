package tcp

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
)

const transport = "tcp"

type streamConfig struct {
	framer        asio2.Framer
	maxFrameSize  int
	readBufSize   int
	sendQueueSize int
	writeTimeout  time.Duration
	logger        asio2.Logger
	observer      asio2.Observer
}

// stream is the read/write core shared by Session and Client. A reader
// goroutine splits incoming bytes into messages while a writer goroutine
// drains the send queue.
type stream struct {
	cfg   streamConfig
	conn  net.Conn
	alive *component.AliveTime

	queue  *asio2.RingBuffer[[]byte]
	signal chan struct{}

	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
	reason     error
	stopping   atomic.Bool
}

func newStream(conn net.Conn, cfg streamConfig, alive *component.AliveTime) *stream {
	return &stream{
		cfg:        cfg,
		conn:       conn,
		alive:      alive,
		queue:      asio2.NewRingBuffer[[]byte](uint64(cfg.sendQueueSize)),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// send frames p and queues it for the writer.
func (s *stream) send(p []byte) error {
	if s.stopping.Load() || s.isClosed() {
		return asio2.ErrNotStarted
	}
	buf, err := s.cfg.framer.Frame(asio2.GetBuffer(len(p) + 16)[:0], p)
	if err != nil {
		asio2.PutBuffer(buf)
		return err
	}
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

// stop closes the stream once the queued messages have been written.
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

// closeWith closes the connection. The first reason wins.
func (s *stream) closeWith(err error) {
	s.once.Do(func() {
		s.reason = err
		close(s.done)
		_ = s.conn.Close()
	})
}

// run reads until the connection fails and returns the close reason.
// onMsg receives a private copy of every message.
func (s *stream) run(onMsg func([]byte)) error {
	go s.writeLoop()

	sc := asio2.NewScanner(s.conn, s.cfg.framer, s.cfg.readBufSize, s.cfg.maxFrameSize)
	for sc.Scan() {
		tok := sc.Bytes()
		s.alive.UpdateAliveTime()
		s.cfg.observer.BytesIn(transport, len(tok))
		msg := make([]byte, len(tok))
		copy(msg, tok)
		onMsg(msg)
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.closeWith(err)
	<-s.writerDone
	return s.reason
}

func (s *stream) writeLoop() {
	defer close(s.writerDone)
	var batch [][]byte
	for {
		select {
		case <-s.done:
			s.release(s.queue.DequeueAll(batch[:0]))
			return
		case <-s.signal:
		}

		batch = s.queue.DequeueAll(batch[:0])
		if len(batch) > 0 {
			if err := s.write(batch); err != nil {
				s.cfg.logger.Warnf("tcp: write to %v failed: %v", s.conn.RemoteAddr(), err)
				s.closeWith(err)
				continue
			}
		}
		if s.stopping.Load() && s.queue.Len() == 0 {
			s.closeWith(asio2.ErrStopped)
		}
	}
}

func (s *stream) write(batch [][]byte) error {
	defer s.release(batch)
	if s.cfg.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout)); err != nil {
			return err
		}
	}
	bufs := net.Buffers(batch)
	n, err := bufs.WriteTo(s.conn)
	if n > 0 {
		s.alive.UpdateAliveTime()
		s.cfg.observer.BytesOut(transport, int(n))
	}
	return err
}

func (s *stream) release(batch [][]byte) {
	for i, b := range batch {
		asio2.PutBuffer(b)
		batch[i] = nil
	}
}
