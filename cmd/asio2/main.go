// Command asio2 runs an rpc echo server with a prometheus endpoint, or
// benchmarks one.
//
//	asio2 -mode server -addr 127.0.0.1:3456 -metrics 127.0.0.1:9100
//	asio2 -mode bench -addr 127.0.0.1:3456 -calls 10000 -c 64
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/fx"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	log := newLogger(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	switch cfg.Mode {
	case "server":
		fx.New(serverModule(cfg, log)).Run()
	case "bench":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		res, err := runBench(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Fatal("bench failed")
		}
		log.Info(res.String())
	}
}
