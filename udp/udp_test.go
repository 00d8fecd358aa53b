package udp

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	asio2 "github.com/zhllxt/asio2-sub011"
)

func startEchoServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()
	srv := NewServer(cfg).OnRecv(func(sess *Session, msg []byte) {
		_ = sess.Send(msg)
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestServerEchoRawSocket(t *testing.T) {
	srv := startEchoServer(t, nil)

	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 1024)
	for _, m := range []string{"one", "two", "three"} {
		_, err := conn.Write([]byte(m))
		require.NoError(t, err)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, m, string(buf[:n]))
	}
	require.Equal(t, 1, srv.SessionCount())
}

func TestServerSessionsPerPeer(t *testing.T) {
	var accepted atomic.Int32
	srv := NewServer(nil).OnAccept(func(*Session) { accepted.Add(1) })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	for range 3 {
		c, err := net.Dial("udp", srv.Addr().String())
		require.NoError(t, err)
		defer c.Close()
		for range 2 {
			_, err = c.Write([]byte("hi"))
			require.NoError(t, err)
		}
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(3), accepted.Load())

	var keys []uint64
	srv.ForEachSession(func(sess *Session) {
		keys = append(keys, sess.Key())
		got, ok := srv.FindSession(sess.addr)
		require.True(t, ok)
		require.Same(t, sess, got)
	})
	require.ElementsMatch(t, []uint64{1, 2, 3}, keys)
}

func TestServerSilenceRemovesSession(t *testing.T) {
	reason := make(chan error, 1)
	srv := NewServer(&ServerConfig{SilenceTimeout: 50 * time.Millisecond}).
		OnDisconnect(func(_ *Session, err error) { reason <- err })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	c, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case err := <-reason:
		require.ErrorIs(t, err, asio2.ErrSilenceTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("silent session was not removed")
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServerDefaultSilence(t *testing.T) {
	srv := NewServer(nil)
	require.Equal(t, DefaultSilenceTimeout, srv.config.SilenceTimeout)
}

func TestServerStopDisconnectsSessions(t *testing.T) {
	var disconnects atomic.Int32
	var stopped atomic.Bool
	srv := NewServer(nil).
		OnDisconnect(func(_ *Session, err error) {
			if err == asio2.ErrStopped {
				disconnects.Add(1)
			}
		}).
		OnStop(func(error) { stopped.Store(true) })
	require.NoError(t, srv.Start("127.0.0.1:0"))

	c, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.Equal(t, int32(1), disconnects.Load())
	require.True(t, stopped.Load())
	require.ErrorIs(t, srv.Stop(), asio2.ErrNotStarted)
}

func TestClient(t *testing.T) {
	srv := startEchoServer(t, nil)

	got := make(chan string, 1)
	disconnected := make(chan error, 1)
	cli := NewClient(nil).
		OnRecv(func(msg []byte) { got <- string(msg) }).
		OnDisconnect(func(err error) { disconnected <- err })
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

	require.NoError(t, cli.Stop())
	require.ErrorIs(t, <-disconnected, asio2.ErrStopped)
	require.False(t, cli.IsStarted())
	require.ErrorIs(t, cli.Send([]byte("x")), asio2.ErrNotStarted)
	require.ErrorIs(t, cli.Stop(), asio2.ErrNotStarted)
}
