package proto

import "fmt"

// OutMsg is a single outbound operation queued for the Writer. It forms a
// singly-linked chain (via Next) inside the Write Queue so a batch can be
// walked and serialized without copying pointers into a temporary slice —
// the queue's intrusive-chain design is a deliberate allocation-avoidance
// choice carried over from the source writer.
type OutMsg struct {
	// Proto is the precomputed protocol line, without the trailing CRLF.
	Proto []byte
	// Regular is true for PUB/HPUB: a CRLF-terminated body follows Proto.
	// False for control operations (CONNECT, SUB, UNSUB, PING, PONG),
	// which are just Proto+CRLF on the wire.
	Regular bool
	Header  []byte // encoded header block (HPUB only), nil otherwise
	Payload []byte

	// Internal marks protocol-management traffic (SUB/UNSUB replay,
	// PING/PONG) that bypasses the write queue's byte-capacity check.
	Internal bool

	// Next chains this message to the following one in the Write Queue.
	Next *OutMsg
}

// SizeInBytes is the exact number of bytes this message contributes to the
// serialized stream, used for queue byte-capacity accounting and batch
// sizing.
func (m *OutMsg) SizeInBytes() int {
	n := len(m.Proto) + len(CRLF)
	if m.Regular {
		n += len(m.Header) + len(m.Payload) + len(CRLF)
	}
	return n
}

// AppendTo serializes the message into b: protocol line, CRLF, and for
// regular messages the header block followed by payload followed by CRLF.
func (m *OutMsg) AppendTo(b *ByteArrayBuilder) {
	b.Append(m.Proto)
	b.Append(CRLF)
	if m.Regular {
		if len(m.Header) > 0 {
			b.Append(m.Header)
		}
		b.Append(m.Payload)
		b.Append(CRLF)
	}
}

// NewPub builds a PUB outbound message.
func NewPub(subject, replyTo string, payload []byte) *OutMsg {
	var proto string
	if replyTo == "" {
		proto = fmt.Sprintf("PUB %s %d", subject, len(payload))
	} else {
		proto = fmt.Sprintf("PUB %s %s %d", subject, replyTo, len(payload))
	}
	return &OutMsg{Proto: []byte(proto), Regular: true, Payload: payload}
}

// NewHPub builds an HPUB outbound message.
func NewHPub(subject, replyTo string, h *Header, payload []byte) *OutMsg {
	encoded := h.Encode()
	total := len(encoded) + len(payload)
	var proto string
	if replyTo == "" {
		proto = fmt.Sprintf("HPUB %s %d %d", subject, len(encoded), total)
	} else {
		proto = fmt.Sprintf("HPUB %s %s %d %d", subject, replyTo, len(encoded), total)
	}
	return &OutMsg{Proto: []byte(proto), Regular: true, Header: encoded, Payload: payload}
}

// NewSub builds a SUB outbound message.
func NewSub(subject, queue string, sid uint64) *OutMsg {
	var proto string
	if queue == "" {
		proto = fmt.Sprintf("SUB %s %d", subject, sid)
	} else {
		proto = fmt.Sprintf("SUB %s %s %d", subject, queue, sid)
	}
	return &OutMsg{Proto: []byte(proto), Internal: true}
}

// NewUnsub builds an UNSUB outbound message. maxMsgs < 0 omits the
// auto-unsubscribe count.
func NewUnsub(sid uint64, maxMsgs int) *OutMsg {
	var proto string
	if maxMsgs < 0 {
		proto = fmt.Sprintf("UNSUB %d", sid)
	} else {
		proto = fmt.Sprintf("UNSUB %d %d", sid, maxMsgs)
	}
	return &OutMsg{Proto: []byte(proto), Internal: true}
}

// NewPing builds a PING control message.
func NewPing() *OutMsg { return &OutMsg{Proto: []byte("PING"), Internal: true} }

// NewPong builds a PONG control message.
func NewPong() *OutMsg { return &OutMsg{Proto: []byte("PONG"), Internal: true} }

// NewConnect builds a CONNECT control message from an already-marshaled
// JSON payload.
func NewConnect(json []byte) *OutMsg {
	return &OutMsg{Proto: append([]byte("CONNECT "), json...), Internal: true}
}
