// Package linebus is a client library for a text-line publish/subscribe
// messaging broker. It owns the connection runtime: the TCP/TLS transport,
// the line-oriented wire protocol, subscription and request/reply
// multiplexing over a single connection, and automatic reconnection with
// bounded in-memory buffering across transient network failures.
//
// # Features
//
//   - Pull and push (dispatcher) subscriptions
//   - Request/reply over a single shared inbox subscription
//   - Automatic reconnection with a fixed wait plus random jitter and
//     endpoint discovery from server-pushed INFO
//   - Bounded write queue with block/discard-new backpressure policy
//   - TLS and "opentls" (deferred upgrade) endpoints
//
// # Quick start
//
//	conn, err := linebus.Connect(context.Background(),
//	    linebus.WithServers("nats://localhost:4222"),
//	    linebus.WithName("my-client"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	sub, _ := conn.SubscribeSync("updates.*")
//	go func() {
//	    for {
//	        msg, err := sub.Next(context.Background())
//	        if err != nil {
//	            return
//	        }
//	        fmt.Println(msg.Subject, string(msg.Data))
//	    }
//	}()
//
//	conn.Publish("updates.a", []byte("hello"))
package linebus
