package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/zhllxt/asio2-sub011/rpc"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseConfig(nil, io.Discard)
		require.NoError(t, err)
		require.Equal(t, defaultConfig(), cfg)
	})

	t.Run("file then flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "asio2.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"mode":"bench","codec":"gob","callTimeout":"250ms","calls":7}`), 0o600))

		cfg, err := parseConfig([]string{"-config", path, "-calls", "9"}, io.Discard)
		require.NoError(t, err)
		require.Equal(t, "bench", cfg.Mode)
		require.Equal(t, "gob", cfg.Codec)
		require.Equal(t, 250*time.Millisecond, cfg.CallTimeout.Duration)
		require.Equal(t, 9, cfg.Calls)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := parseConfig([]string{"-mode", "proxy"}, io.Discard)
		require.Error(t, err)
		_, err = parseConfig([]string{"-codec", "xml"}, io.Discard)
		require.Error(t, err)
		_, err = parseConfig([]string{"-log-level", "loud"}, io.Discard)
		require.Error(t, err)
	})
}

func TestServerModuleAndBench(t *testing.T) {
	cfg := defaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.Loops = 2
	log := quietLogger()

	var srv *rpc.Server
	app := fxtest.New(t, serverModule(cfg, log), fx.Populate(&srv))
	app.RequireStart()
	defer app.RequireStop()

	cfg.Mode = "bench"
	cfg.Addr = srv.Addr().String()
	cfg.Calls = 200
	cfg.Concurrency = 16
	res, err := runBench(context.Background(), cfg, log)
	require.NoError(t, err)
	require.Equal(t, 200, res.Calls)
	require.LessOrEqual(t, res.P50, res.P99)

	cli := rpc.NewClient(nil)
	require.NoError(t, cli.Start(context.Background(), srv.Addr().String()))
	defer cli.Stop()
	var rev string
	require.NoError(t, cli.Call(context.Background(), "reverse", "héllo", &rev))
	require.Equal(t, "olléh", rev)
}

func TestSummarize(t *testing.T) {
	var lat []time.Duration
	for i := range 100 {
		lat = append(lat, time.Duration(100-i)*time.Millisecond)
	}
	r := summarize(lat, time.Second)
	require.Equal(t, 100, r.Calls)
	require.Equal(t, 51*time.Millisecond, r.P50)
	require.Equal(t, 100*time.Millisecond, r.P99)
	require.Contains(t, r.String(), "100 calls")
}
