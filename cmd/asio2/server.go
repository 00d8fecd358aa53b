package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/zhllxt/asio2-sub011/iopool"
	"github.com/zhllxt/asio2-sub011/metrics"
	"github.com/zhllxt/asio2-sub011/rpc"
	"github.com/zhllxt/asio2-sub011/tcp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// EchoReply is returned by the echo method.
type EchoReply struct {
	Text   string `json:"text"`
	Server string `json:"server"`
}

// serverModule wires the rpc daemon. Hooks stop in reverse order, so the
// pool outlives the rpc server.
func serverModule(cfg Config, log *logrus.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.Provide(
			newPool,
			newCollector,
			newRPCServer,
		),
		fx.Invoke(registerMetricsEndpoint, registerRPCServer),
		fx.WithLogger(func() fxevent.Logger {
			if log.IsLevelEnabled(logrus.DebugLevel) {
				z, err := zap.NewDevelopment()
				if err == nil {
					return &fxevent.ZapLogger{Logger: z}
				}
			}
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
}

func newPool(lc fx.Lifecycle, cfg Config, log *logrus.Logger) *iopool.Pool {
	p := iopool.NewPool(cfg.Loops, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return p.Start() },
		OnStop: func(context.Context) error {
			p.Stop()
			return nil
		},
	})
	return p
}

func newCollector() (*metrics.Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return metrics.NewCollector().MustRegister(reg), reg
}

func newRPCServer(cfg Config, pool *iopool.Pool, collector *metrics.Collector, log *logrus.Logger) (*rpc.Server, error) {
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}
	srv := rpc.NewServer(&rpc.ServerConfig{
		TCP:                   tcp.ServerConfig{Pool: pool, Observer: collector},
		Codec:                 codec,
		CallTimeout:           cfg.CallTimeout.Duration,
		MaxConcurrentHandlers: cfg.MaxHandlers,
		Logger:                log,
	})
	bindMethods(srv.Router, uuid.NewString(), collector)

	srv.OnConnect(func(p *rpc.Peer) {
		log.WithField("peer", p.RemoteAddr()).Debug("rpc peer connected")
	}).OnDisconnect(func(p *rpc.Peer, err error) {
		log.WithField("peer", p.RemoteAddr()).WithError(err).Debug("rpc peer disconnected")
	})
	return srv, nil
}

func bindMethods(r *rpc.Router, serverID string, collector *metrics.Collector) {
	rpc.Bind(r, "echo", func(_ context.Context, text string) (EchoReply, error) {
		return EchoReply{Text: text, Server: serverID}, nil
	})
	rpc.Bind(r, "reverse", func(_ context.Context, text string) (string, error) {
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})
	rpc.Bind(r, "stats", func(context.Context, struct{}) (map[string]metrics.Stats, error) {
		return collector.Snapshot(), nil
	})
}

func registerRPCServer(lc fx.Lifecycle, cfg Config, srv *rpc.Server, log *logrus.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Start(cfg.Addr); err != nil {
				return err
			}
			log.WithField("addr", srv.Addr()).Info("rpc server started")
			return nil
		},
		OnStop: func(context.Context) error { return srv.Stop() },
	})
}

func registerMetricsEndpoint(lc fx.Lifecycle, cfg Config, reg *prometheus.Registry, collector *metrics.Collector, log *logrus.Logger) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("metrics endpoint failed")
				}
			}()
			go logSnapshots(collector, log, stop)
			log.WithField("addr", ln.Addr()).Info("metrics endpoint started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return hs.Shutdown(ctx)
		},
	})
}

func logSnapshots(collector *metrics.Collector, log *logrus.Logger, stop <-chan struct{}) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			for transport, s := range collector.Snapshot() {
				log.WithFields(logrus.Fields{
					"transport": transport,
					"active":    s.Active,
					"accepted":  s.Accepted,
					"in":        s.BytesIn,
					"out":       s.BytesOut,
				}).Info("traffic")
			}
		}
	}
}
