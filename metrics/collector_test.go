package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/zhllxt/asio2-sub011/tcp"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.ConnOpened("tcp")
	c.ConnOpened("tcp")
	c.ConnClosed("tcp")
	c.ConnOpened("udp")
	c.BytesIn("tcp", 10)
	c.BytesOut("tcp", 4)

	require.Equal(t, 2.0, testutil.ToFloat64(c.accepted.WithLabelValues("tcp")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.active.WithLabelValues("tcp")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.active.WithLabelValues("udp")))
	require.Equal(t, 10.0, testutil.ToFloat64(c.bytesIn.WithLabelValues("tcp")))

	snap := c.Snapshot()
	require.Equal(t, Stats{Accepted: 2, Active: 1, BytesIn: 10, BytesOut: 4}, snap["tcp"])
	require.Equal(t, Stats{Accepted: 1, Active: 1}, snap["udp"])
}

func TestCollectorRegistry(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector().MustRegister(reg)
	c.ConnOpened("ws")

	expected := `
# HELP asio2_sessions_active Connections currently open, by transport.
# TYPE asio2_sessions_active gauge
asio2_sessions_active{transport="ws"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "asio2_sessions_active"))
}

func TestCollectorAsObserver(t *testing.T) {
	c := NewCollector()
	srv := tcp.NewServer(&tcp.ServerConfig{Observer: c}).
		OnRecv(func(sess *tcp.Session, msg []byte) { _ = sess.Send(msg) })
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	got := make(chan []byte, 1)
	cli := tcp.NewClient(nil).OnRecv(func(msg []byte) { got <- msg })
	require.NoError(t, cli.Start(context.Background(), srv.Addr().String()))
	require.NoError(t, cli.Send([]byte("hello")))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	snap := c.Snapshot()["tcp"]
	require.Equal(t, uint64(1), snap.Accepted)
	require.Equal(t, int64(1), snap.Active)
	require.Equal(t, uint64(5), snap.BytesIn)
	require.Eventually(t, func() bool { return c.Snapshot()["tcp"].BytesOut > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, cli.Stop())
	require.Eventually(t, func() bool { return c.Snapshot()["tcp"].Active == 0 }, 2*time.Second, 5*time.Millisecond)
}
