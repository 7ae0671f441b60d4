package linebus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// mockServer is a minimal line-protocol peer good enough to exercise the
// handshake, publish/subscribe round trip, and flush without pulling in a
// real broker.
type mockServer struct {
	ln net.Listener
}

func startMockServer(t *testing.T) *mockServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &mockServer{ln: ln}
}

func (s *mockServer) addr() string { return s.ln.Addr().String() }

func (s *mockServer) close() { s.ln.Close() }

// serveEcho accepts one connection, completes the handshake, and echoes
// every PUB it sees back as a MSG to every SUB'd sid whose subject
// matches, plus answers PING with PONG.
func (s *mockServer) serveEcho(t *testing.T) {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	fmt.Fprintf(conn, "INFO {\"server_id\":\"mock\",\"version\":\"0.0.0\",\"proto\":1,\"max_payload\":1048576}\r\n")

	r := bufio.NewReader(conn)
	subs := map[string]string{} // sid -> subject

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "CONNECT":
			// no reply required by the core's handshake.
		case "SUB":
			subs[fields[len(fields)-1]] = fields[1]
		case "UNSUB":
			delete(subs, fields[1])
		case "PING":
			fmt.Fprintf(conn, "PONG\r\n")
		case "PUB":
			subject := fields[1]
			size := fields[len(fields)-1]
			var n int
			fmt.Sscanf(size, "%d", &n)
			payload := make([]byte, n)
			if _, err := readFull(r, payload); err != nil {
				return
			}
			r.Discard(2) // trailing CRLF
			for sid, subj := range subs {
				if subj == subject {
					fmt.Fprintf(conn, "MSG %s %s %d\r\n", subject, sid, len(payload))
					conn.Write(payload)
					fmt.Fprintf(conn, "\r\n")
				}
			}
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestConnectPublishSubscribeRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := startMockServer(t)
	defer srv.close()
	go srv.serveEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, WithServers("nats://"+srv.addr()), WithNoRandomize())
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.SubscribeSync("orders.created")
	require.NoError(t, err)

	require.NoError(t, conn.Publish("orders.created", []byte("hello")))

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders.created", msg.Subject)
	assert.Equal(t, "hello", string(msg.Data))
}

func TestPublishRejectsWildcardSubject(t *testing.T) {
	srv := startMockServer(t)
	defer srv.close()
	go srv.serveEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, WithServers("nats://"+srv.addr()))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Publish("orders.*", []byte("x"))
	assert.ErrorIs(t, err, ErrBadSubject)
}

func TestPublishAfterCloseFails(t *testing.T) {
	srv := startMockServer(t)
	defer srv.close()
	go srv.serveEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, WithServers("nats://"+srv.addr()))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Publish("orders.created", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

// TestWriterRapidStopStart is the regression contract from §5: calling
// stop() then start() back-to-back without awaiting the prior stop's
// completion must not leak goroutines or overlap writes to the new
// transport.
func TestWriterRapidStopStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	primary := newWriteQueue(0, 0, false)
	reconnectQ := newWriteQueue(0, 0, false)
	w := newWriter(primary, reconnectQ, 4096, nil)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	tr := &transport{conn: client, bytesSent: new(atomic.Uint64), bytesReceived: new(atomic.Uint64)}
	for i := 0; i < 20; i++ {
		w.start(tr)
		w.stop()
	}
	<-w.stop()
}
