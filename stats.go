package linebus

import "sync/atomic"

// connStats holds the atomic counters backing Stats. Other files of the
// package (transport.go, publish.go, logic.go, reconnect.go) update them
// directly without going through accessor methods on the hot path.
type connStats struct {
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
	slowConsumers    atomic.Uint64
}

// Stats is a point-in-time snapshot of connection throughput and health
// counters.
type Stats struct {
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
	Reconnects       uint64
	SlowConsumers    uint64
}

func (s *connStats) snapshot() Stats {
	return Stats{
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		Reconnects:       s.reconnects.Load(),
		SlowConsumers:    s.slowConsumers.Load(),
	}
}

// Stats returns the current throughput and health counters.
func (c *Connection) Stats() Stats {
	return c.stats.snapshot()
}
