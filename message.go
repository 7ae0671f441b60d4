package linebus

import "github.com/anvilio/linebus/internal/proto"

// Message is a single inbound delivery handed to a pull consumer or a push
// subscription's handler.
//
// Header is nil unless the originating frame was HMSG. Respond publishes a
// reply on the message's ReplyTo subject, and is a no-op (returning
// ErrBadSubject) if ReplyTo is empty.
type Message struct {
	Subject string
	ReplyTo string
	Header  *Header
	Data    []byte

	sid  uint64
	conn *Connection
}

// Respond publishes payload on the message's ReplyTo subject, if any.
func (m *Message) Respond(payload []byte) error {
	if m.ReplyTo == "" {
		return ErrBadSubject
	}
	return m.conn.Publish(m.ReplyTo, payload)
}

func newMessage(conn *Connection, raw *proto.Message) (*Message, error) {
	msg := &Message{
		Subject: raw.Subject,
		ReplyTo: raw.ReplyTo,
		Data:    raw.Data,
		sid:     raw.SID,
		conn:    conn,
	}
	if raw.HeaderBlock != nil {
		h, err := proto.DecodeHeader(raw.HeaderBlock)
		if err != nil {
			return nil, err
		}
		msg.Header = &Header{raw: h}
	}
	return msg, nil
}
