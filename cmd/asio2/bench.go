package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zhllxt/asio2-sub011/rpc"
	"golang.org/x/sync/errgroup"
)

// benchResult summarizes a bench run.
type benchResult struct {
	Calls   int
	Elapsed time.Duration
	P50     time.Duration
	P99     time.Duration
}

func (r benchResult) String() string {
	rate := float64(r.Calls) / r.Elapsed.Seconds()
	return fmt.Sprintf("%d calls in %v (%.0f/s) p50=%v p99=%v", r.Calls, r.Elapsed, rate, r.P50, r.P99)
}

// runBench issues cfg.Calls echo calls over one connection with at most
// cfg.Concurrency in flight.
func runBench(ctx context.Context, cfg Config, log *logrus.Logger) (benchResult, error) {
	codec, err := cfg.codec()
	if err != nil {
		return benchResult{}, err
	}
	cli := rpc.NewClient(&rpc.ClientConfig{
		Codec:       codec,
		CallTimeout: cfg.CallTimeout.Duration,
		Logger:      log,
	})
	if err := cli.Start(ctx, cfg.Addr); err != nil {
		return benchResult{}, err
	}
	defer cli.Stop()

	run := uuid.NewString()
	log.WithFields(logrus.Fields{"run": run, "calls": cfg.Calls, "concurrency": cfg.Concurrency}).Info("bench started")

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, cfg.Calls)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	start := time.Now()
	for i := range cfg.Calls {
		g.Go(func() error {
			text := fmt.Sprintf("%s-%d", run, i)
			began := time.Now()
			var reply EchoReply
			if err := cli.Call(gctx, "echo", text, &reply); err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			if reply.Text != text {
				return fmt.Errorf("call %d: echo mismatch %q", i, reply.Text)
			}
			d := time.Since(began)
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	return summarize(latencies, time.Since(start)), nil
}

func summarize(latencies []time.Duration, elapsed time.Duration) benchResult {
	r := benchResult{Calls: len(latencies), Elapsed: elapsed}
	if len(latencies) == 0 {
		return r
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	r.P50 = latencies[len(latencies)*50/100]
	r.P99 = latencies[min(len(latencies)-1, len(latencies)*99/100)]
	return r
}
