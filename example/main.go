// Package main shows a dgram framed tcp echo and an rpc server that calls
// back into its client.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
	"github.com/zhllxt/asio2-sub011/iopool"
	"github.com/zhllxt/asio2-sub011/rpc"
	"github.com/zhllxt/asio2-sub011/tcp"
)

// loggerWrapper adapts the standard log.Logger to satisfy asio2.Logger.
type loggerWrapper struct {
	*log.Logger
}

func (lw *loggerWrapper) Infof(format string, v ...any) {
	lw.Printf(format, v...)
}

func (lw *loggerWrapper) Warnf(format string, v ...any) {
	lw.Printf("[WARN] "+format, v...)
}

func (lw *loggerWrapper) Errorf(format string, v ...any) {
	lw.Printf("[ERROR] "+format, v...)
}

// runEcho reverses every message on the server and prints the replies.
func runEcho(pool *iopool.Pool, logger asio2.Logger, requests []string) error {
	srv := tcp.NewServer(&tcp.ServerConfig{
		Framer: asio2.DgramFramer{},
		Logger: logger,
		Pool:   pool,
	}).OnRecv(func(sess *tcp.Session, msg []byte) {
		for i, j := 0, len(msg)-1; i < j; i, j = i+1, j-1 {
			msg[i], msg[j] = msg[j], msg[i]
		}
		_ = sess.Send(msg)
	})
	if err := srv.Start("127.0.0.1:0"); err != nil {
		return fmt.Errorf("echo server: %w", err)
	}
	defer srv.Stop()

	var wg sync.WaitGroup
	wg.Add(len(requests))
	cli := tcp.NewClient(&tcp.ClientConfig{Framer: asio2.DgramFramer{}, Logger: logger, Pool: pool}).
		OnRecv(func(msg []byte) {
			log.Printf("echo received: %s", msg)
			wg.Done()
		})
	if err := cli.Start(context.Background(), srv.Addr().String()); err != nil {
		return fmt.Errorf("echo client: %w", err)
	}
	defer cli.Stop()

	for _, r := range requests {
		if err := cli.Send([]byte(r)); err != nil {
			return err
		}
	}
	wg.Wait()
	return nil
}

// runRPC has the server answer "greet" by first asking the client for a title.
func runRPC(pool *iopool.Pool, logger asio2.Logger) error {
	srv := rpc.NewServer(&rpc.ServerConfig{TCP: tcp.ServerConfig{Pool: pool}, Logger: logger})
	rpc.Bind(srv.Router, "greet", func(ctx context.Context, name string) (string, error) {
		peer, _ := rpc.PeerFromContext(ctx)
		var title string
		if err := peer.Call(ctx, "title", name, &title); err != nil {
			return "", err
		}
		return fmt.Sprintf("hello %s %s", title, name), nil
	})
	if err := srv.Start("127.0.0.1:0"); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	defer srv.Stop()

	cli := rpc.NewClient(&rpc.ClientConfig{TCP: tcp.ClientConfig{Pool: pool}, Logger: logger})
	rpc.Bind(cli.Router, "title", func(_ context.Context, name string) (string, error) {
		if name == "who" {
			return "doctor", nil
		}
		return "mx", nil
	})
	if err := cli.Start(context.Background(), srv.Addr().String()); err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	defer cli.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, name := range []string{"who", "smith"} {
		var out string
		if err := cli.Call(ctx, "greet", name, &out); err != nil {
			return err
		}
		log.Printf("rpc: %s", out)
	}
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := &loggerWrapper{Logger: log.New(os.Stdout, "ASIO2: ", log.LstdFlags|log.Lmicroseconds)}

	pool := iopool.NewPool(2, logger)
	if err := pool.Start(); err != nil {
		log.Fatal(err)
	}
	defer pool.Stop()

	if err := runEcho(pool, logger, []string{"hello", "world", "asio2"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := runRPC(pool, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
