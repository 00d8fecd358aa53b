//nolint:all
package asio2_test

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	asio2 "github.com/zhllxt/asio2-sub011"
)

// waitGroupWithTimeout attempts to wait for a WaitGroup with a timeout.
// Returns true if the WaitGroup completed before timeout, false otherwise.
func waitGroupWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StartTestServer creates a TCP server for testing that echoes back every
// length-prefixed message it receives.
//
// Returns the server address, a cleanup function, and any setup error.
func StartTestServer() (string, func() error, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}

	var active sync.WaitGroup
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Printf("Test server accept error: %v", err)
				}
				return
			}

			mu.Lock()
			conns[conn] = struct{}{}
			mu.Unlock()

			active.Add(1)
			go func(conn net.Conn) {
				defer func() {
					mu.Lock()
					delete(conns, conn)
					mu.Unlock()
					_ = conn.Close()
					active.Done()
				}()

				for {
					if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
						return
					}
					msg, err := asio2.Read(conn)
					if err != nil {
						if err != io.EOF && !errors.Is(err, net.ErrClosed) {
							log.Printf("Test server read error: %v", err)
						}
						return
					}
					if err := asio2.Write(conn, msg); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return l.Addr().String(), func() error {
		err := l.Close()

		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()

		if !waitGroupWithTimeout(&active, 5*time.Second) {
			log.Printf("Timed out waiting for test server connections to close")
		}

		return err
	}, nil
}
