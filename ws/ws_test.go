package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	asio2 "github.com/zhllxt/asio2-sub011"
)

func wsURL(srv *Server) string {
	return "ws://" + srv.Addr().String() + srv.config.Path
}

func startEchoServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()
	srv := NewServer(cfg).OnRecv(func(sess *Session, msg []byte) {
		_ = sess.Send(msg)
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestServerEchoWithGorillaClient(t *testing.T) {
	srv := startEchoServer(t, &ServerConfig{Path: "/echo"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Equal(t, "hello", string(msg))

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 5*time.Millisecond)
	srv.ForEachSession(func(sess *Session) {
		require.Equal(t, "/echo", sess.Request().URL.Path)
	})
}

func TestWrongPathIsNotUpgraded(t *testing.T) {
	srv := startEchoServer(t, &ServerConfig{Path: "/echo"})
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/other", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientCallbacks(t *testing.T) {
	srv := startEchoServer(t, nil)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	got := make(chan struct{}, 1)
	cli := NewClient(nil).
		OnInit(func() { record("init") }).
		OnConnect(func(err error) {
			require.NoError(t, err)
			record("connect")
		}).
		OnRecv(func(msg []byte) {
			record("recv:" + string(msg))
			got <- struct{}{}
		}).
		OnDisconnect(func(err error) {
			require.ErrorIs(t, err, asio2.ErrStopped)
			record("disconnect")
		})

	require.NoError(t, cli.Start(context.Background(), wsURL(srv)))
	require.True(t, cli.IsStarted())
	require.ErrorIs(t, cli.Start(context.Background(), wsURL(srv)), asio2.ErrAlreadyStarted)
	require.NoError(t, cli.Send([]byte("ping")))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
	require.NoError(t, cli.Stop())
	require.False(t, cli.IsStarted())
	require.ErrorIs(t, cli.Send([]byte("x")), asio2.ErrNotStarted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"init", "connect", "recv:ping", "disconnect"}, events)
}

func TestClientDialError(t *testing.T) {
	var connectErr error
	cli := NewClient(&ClientConfig{HandshakeTimeout: time.Second}).
		OnConnect(func(err error) { connectErr = err })
	err := cli.Start(context.Background(), "ws://127.0.0.1:1/")
	require.Error(t, err)
	require.Equal(t, err, connectErr)
	require.ErrorIs(t, cli.Stop(), asio2.ErrNotStarted)
}

func TestServerStopClosesClients(t *testing.T) {
	var disconnects sync.WaitGroup
	disconnects.Add(2)
	srv := NewServer(nil).OnDisconnect(func(_ *Session, err error) {
		require.ErrorIs(t, err, asio2.ErrStopped)
		disconnects.Done()
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))

	closed := make(chan error, 2)
	for range 2 {
		cli := NewClient(nil).OnDisconnect(func(err error) { closed <- err })
		require.NoError(t, cli.Start(context.Background(), wsURL(srv)))
		defer cli.Stop()
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, srv.Broadcast([]byte("bye")))

	require.NoError(t, srv.Stop())
	disconnects.Wait()
	for range 2 {
		select {
		case err := <-closed:
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, websocket.CloseNormalClosure, ce.Code)
		case <-time.After(2 * time.Second):
			t.Fatal("client was not closed")
		}
	}
	require.ErrorIs(t, srv.Stop(), asio2.ErrNotStarted)
}

func TestRejectInAccept(t *testing.T) {
	connected := make(chan struct{}, 1)
	srv := NewServer(nil).
		OnAccept(func(sess *Session) {
			if strings.Contains(sess.Request().URL.RawQuery, "deny") {
				sess.Stop()
			}
		}).
		OnConnect(func(*Session) { connected <- struct{}{} })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?deny=1", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	select {
	case <-connected:
		t.Fatal("rejected session reached OnConnect")
	default:
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSilenceTimeout(t *testing.T) {
	reason := make(chan error, 1)
	srv := NewServer(&ServerConfig{SilenceTimeout: 50 * time.Millisecond}).
		OnDisconnect(func(_ *Session, err error) { reason <- err })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	cli := NewClient(nil)
	require.NoError(t, cli.Start(context.Background(), wsURL(srv)))
	defer cli.Stop()

	select {
	case err := <-reason:
		require.ErrorIs(t, err, asio2.ErrSilenceTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("silent session was not closed")
	}
}
