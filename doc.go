// Package asio2 provides ready-made TCP, UDP, WebSocket and RPC clients and
// servers built on a small set of composable pieces.
//
// Features:
//   - Run loops: iopool.Pool owns a fixed set of loops and assigns every new
//     connection to one of them round-robin. All callbacks of a connection
//     run serialized on its loop.
//   - Components: the component package supplies embeddable state shared by
//     clients and sessions (alive/connect timestamps, user data, user timers,
//     silence timer, keep-alive options, rate limiting, loop affinity checks).
//   - Framing: Framer implementations split a byte stream into messages
//     (raw, delimiter, length-prefix, dgram, or a custom bufio.SplitFunc).
//   - TCP/UDP: tcp.Server, tcp.Client, udp.Server and udp.Client invoke user
//     callbacks on accept, connect, receive and disconnect.
//   - RPC: rpc.Server and rpc.Client correlate requests and responses by a
//     monotonically increasing id, with timeouts and bidirectional calls.
//   - WebSocket: ws.Server and ws.Client follow the tcp callback model over
//     gorilla/websocket.
//   - MQTT: the mqtt package frames MQTT control packets on a stream.
//   - Metrics: metrics.Collector is a prometheus backed Observer.
//
// Basic Server Example:
//
//	srv := tcp.NewServer(&tcp.ServerConfig{Framer: asio2.DgramFramer{}})
//	srv.OnRecv(func(s *tcp.Session, msg []byte) {
//	    _ = s.Send(msg)
//	})
//	if err := srv.Start("127.0.0.1:9000"); err != nil {
//	    // handle error
//	}
//	defer srv.Stop()
//
// Basic RPC Example:
//
//	client := rpc.NewClient(nil)
//	if err := client.Start(ctx, "127.0.0.1:9001"); err != nil {
//	    // handle error
//	}
//	var sum int
//	err := client.Call(ctx, "add", []int{1, 2}, &sum)
package asio2
