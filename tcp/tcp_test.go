package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/component"
	"github.com/zhllxt/asio2-sub011/iopool"
)

func startEchoServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()
	srv := NewServer(cfg)
	srv.OnRecv(func(sess *Session, msg []byte) {
		_ = sess.Send(msg)
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestServerEcho(t *testing.T) {
	srv := startEchoServer(t, nil)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	for _, m := range []string{"hello", "", "world"} {
		require.NoError(t, asio2.Write(conn, []byte(m)))
		got, err := asio2.Read(conn)
		require.NoError(t, err)
		require.Equal(t, m, string(got))
	}
}

func TestServerCallbacks(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	disconnected := make(chan error, 1)

	srv := NewServer(&ServerConfig{Framer: asio2.NewDelimiterFramer("\n")})
	srv.OnInit(func() { record("init") }).
		OnStart(func(err error) { require.NoError(t, err); record("start") }).
		OnAccept(func(*Session) { record("accept") }).
		OnConnect(func(sess *Session) {
			record("connect")
			require.True(t, sess.IsStarted())
			require.NotNil(t, sess.RemoteAddr())
		}).
		OnRecv(func(sess *Session, msg []byte) {
			record("recv:" + string(msg))
		}).
		OnDisconnect(func(_ *Session, err error) {
			record("disconnect")
			disconnected <- err
		}).
		OnStop(func(error) { record("stop") })

	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.True(t, srv.IsStarted())

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 6
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-disconnected:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.ErrorIs(t, srv.Stop(), asio2.ErrNotStarted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"init", "start", "accept", "connect", "recv:a\n", "recv:b\n", "disconnect", "stop",
	}, events)
}

func TestServerStartError(t *testing.T) {
	srv := startEchoServer(t, nil)

	var startErr error
	other := NewServer(nil).OnStart(func(err error) { startErr = err })
	err := other.Start(srv.Addr().String())
	require.Error(t, err)
	require.Equal(t, err, startErr)
	require.False(t, other.IsStarted())
}

func TestServerSessionsAndBroadcast(t *testing.T) {
	pool := iopool.NewPool(2, nil)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	srv := startEchoServer(t, &ServerConfig{Pool: pool})

	var conns []net.Conn
	for range 3 {
		c, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		defer c.Close()
		conns = append(conns, c)
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	var keys []uint64
	srv.ForEachSession(func(sess *Session) { keys = append(keys, sess.Key()) })
	require.Len(t, keys, 3)
	sess, ok := srv.FindSession(keys[0])
	require.True(t, ok)
	require.Same(t, srv, sess.Server())
	_, ok = srv.FindSession(9999)
	require.False(t, ok)

	require.Eventually(t, func() bool {
		var ready int
		srv.ForEachSession(func(s *Session) {
			if s.IsStarted() {
				ready++
			}
		})
		return ready == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, srv.Broadcast([]byte("news")))
	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		got, err := asio2.Read(c)
		require.NoError(t, err)
		require.Equal(t, "news", string(got))
	}
}

func TestServerMaxConns(t *testing.T) {
	srv := startEchoServer(t, &ServerConfig{MaxConns: 1})

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = asio2.Read(second)
	require.ErrorIs(t, err, io.EOF)
}

func TestServerRejectInAccept(t *testing.T) {
	var connected atomic.Bool
	srv := NewServer(nil).
		OnAccept(func(sess *Session) { sess.Stop() }).
		OnConnect(func(*Session) { connected.Store(true) })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = asio2.Read(c)
	require.Error(t, err)
	require.False(t, connected.Load())
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServerSilenceTimeout(t *testing.T) {
	reason := make(chan error, 1)
	srv := NewServer(&ServerConfig{SilenceTimeout: 50 * time.Millisecond}).
		OnDisconnect(func(_ *Session, err error) { reason <- err })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case err := <-reason:
		require.ErrorIs(t, err, asio2.ErrSilenceTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("silent session was not closed")
	}
}

func TestServerStopFlushesQueuedMessages(t *testing.T) {
	srv := NewServer(nil)
	connected := make(chan *Session, 1)
	srv.OnConnect(func(sess *Session) { connected <- sess })
	require.NoError(t, srv.Start("127.0.0.1:0"))

	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	sess := <-connected

	for range 10 {
		require.NoError(t, sess.Send([]byte("bye")))
	}
	require.NoError(t, srv.Stop())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for range 10 {
		got, err := asio2.Read(c)
		require.NoError(t, err)
		require.Equal(t, "bye", string(got))
	}
	_, err = asio2.Read(c)
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, sess.Send([]byte("late")), asio2.ErrNotStarted)
}

func TestSendQueueFull(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer a.Close()

	cfg := &ServerConfig{SendQueueSize: 2}
	cfg.applyDefaults()
	st := newStream(a, cfg.streamConfig(), new(component.AliveTime))
	// writer is not running, so the queue fills up.
	require.NoError(t, st.send([]byte("1")))
	require.NoError(t, st.send([]byte("2")))
	require.ErrorIs(t, st.send([]byte("3")), asio2.ErrSendQueueFull)

	_, err = st.cfg.framer.Frame(nil, make([]byte, 70000))
	require.ErrorIs(t, err, asio2.ErrMaxLenExceeded)
}

func TestClientEcho(t *testing.T) {
	srv := startEchoServer(t, nil)

	got := make(chan string, 4)
	var connectErr atomic.Value
	cli := NewClient(nil).
		OnConnect(func(err error) {
			if err != nil {
				connectErr.Store(err)
			}
		}).
		OnRecv(func(msg []byte) { got <- string(msg) })

	require.NoError(t, cli.Start(context.Background(), srv.Addr().String()))
	require.True(t, cli.IsStarted())
	require.ErrorIs(t, cli.Start(context.Background(), srv.Addr().String()), asio2.ErrAlreadyStarted)

	require.NoError(t, cli.Send([]byte("ping")))
	select {
	case m := <-got:
		require.Equal(t, "ping", m)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
	require.Nil(t, connectErr.Load())
	require.NotNil(t, cli.LocalAddr())

	require.NoError(t, cli.Stop())
	require.False(t, cli.IsStarted())
	require.ErrorIs(t, cli.Send([]byte("x")), asio2.ErrNotStarted)
	require.ErrorIs(t, cli.Stop(), asio2.ErrNotStarted)
}

func TestClientDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	reported := make(chan error, 1)
	cli := NewClient(&ClientConfig{ConnectTimeout: time.Second}).
		OnConnect(func(err error) { reported <- err })
	err = cli.Start(context.Background(), addr)
	require.Error(t, err)
	require.Equal(t, err, <-reported)
	require.False(t, cli.IsStarted())
}

func TestClientReconnect(t *testing.T) {
	srv := startEchoServer(t, nil)
	addr := srv.Addr().String()

	var connects, disconnects atomic.Int32
	cli := NewClient(&ClientConfig{
		AutoReconnect: true,
		Retry:         asio2.ExponentialRetry{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	}).
		OnConnect(func(err error) {
			if err == nil {
				connects.Add(1)
			}
		}).
		OnDisconnect(func(error) { disconnects.Add(1) })
	require.NoError(t, cli.AsyncStart(addr))
	defer cli.Stop()

	require.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Kick the client from the server side.
	srv.ForEachSession(func(sess *Session) { sess.Stop() })

	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return connects.Load() == 2 && cli.IsStarted() }, 2*time.Second, 5*time.Millisecond)
}

func TestClientSilenceTimeout(t *testing.T) {
	srv := NewServer(nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	reason := make(chan error, 1)
	cli := NewClient(&ClientConfig{SilenceTimeout: 50 * time.Millisecond}).
		OnDisconnect(func(err error) { reason <- err })
	require.NoError(t, cli.Start(context.Background(), srv.Addr().String()))
	defer cli.Stop()

	select {
	case err := <-reason:
		require.True(t, errors.Is(err, asio2.ErrSilenceTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("client was not closed for silence")
	}
}

func TestClientStopAfterLostConnection(t *testing.T) {
	srv := NewServer(nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))

	var disconnects atomic.Int32
	cli := NewClient(&ClientConfig{
		AutoReconnect: true,
		Retry:         asio2.ExponentialRetry{InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	}).OnDisconnect(func(error) { disconnects.Add(1) })
	require.NoError(t, cli.Start(context.Background(), srv.Addr().String()))

	require.NoError(t, srv.Stop())
	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	// Let a few redials fail.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- cli.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the connection was lost")
	}
	require.False(t, cli.IsStarted())
}

func TestClientReconnectOutlivesDialContext(t *testing.T) {
	srv := startEchoServer(t, nil)

	var connects atomic.Int32
	msg := make(chan string, 1)
	cli := NewClient(&ClientConfig{
		AutoReconnect: true,
		Retry:         asio2.ExponentialRetry{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	}).OnConnect(func(err error) {
		if err == nil {
			connects.Add(1)
		}
	}).OnRecv(func(b []byte) { msg <- string(b) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	require.NoError(t, cli.Start(ctx, srv.Addr().String()))
	cancel()
	defer cli.Stop()

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	srv.ForEachSession(func(sess *Session) { sess.Stop() })

	require.Eventually(t, func() bool { return connects.Load() == 2 && cli.IsStarted() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, cli.Send([]byte("again")))
	select {
	case got := <-msg:
		require.Equal(t, "again", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo after reconnect")
	}
}

func TestServerStopTimeoutStillDisconnects(t *testing.T) {
	var disconnects atomic.Int32
	reason := make(chan error, 1)
	connected := make(chan struct{})
	srv := NewServer(&ServerConfig{
		ShutdownTimeout: 100 * time.Millisecond,
		WriteTimeout:    10 * time.Second,
	})
	srv.OnConnect(func(sess *Session) {
		chunk := make([]byte, 60000)
		for range 512 {
			if sess.Send(chunk) != nil {
				break
			}
		}
		close(connected)
	}).OnDisconnect(func(_ *Session, err error) {
		disconnects.Add(1)
		reason <- err
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))

	// The peer never reads, so the session writer stays blocked.
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-connected

	begin := time.Now()
	require.NoError(t, srv.Stop())
	require.Less(t, time.Since(begin), 5*time.Second)
	require.Equal(t, int32(1), disconnects.Load())
	require.ErrorIs(t, <-reason, asio2.ErrStopped)
	require.Zero(t, srv.SessionCount())
}
