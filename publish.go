package linebus

import "github.com/anvilio/linebus/internal/proto"

// Publish sends payload on subject with no reply-to set. It is the
// fast-path, no-copy publish: CLOSED fails immediately, and a publish
// issued while RECONNECTING is routed to the reconnect buffer per the
// configured policy instead of the primary Write Queue (§4.G).
func (c *Connection) Publish(subject string, payload []byte) error {
	return c.publish(subject, "", nil, payload)
}

// PublishRequest sends payload on subject with replyTo set, so a
// responder can address a reply back without a shared inbox.
func (c *Connection) PublishRequest(subject, replyTo string, payload []byte) error {
	return c.publish(subject, replyTo, nil, payload)
}

// PublishMsg sends payload on subject with an attached header block
// (HPUB).
func (c *Connection) PublishMsg(subject, replyTo string, header *Header, payload []byte) error {
	return c.publish(subject, replyTo, header, payload)
}

func (c *Connection) publish(subject, replyTo string, header *Header, payload []byte) error {
	if err := validatePublishSubject(subject, c.opts); err != nil {
		return err
	}
	if replyTo != "" {
		if err := validatePublishSubject(replyTo, c.opts); err != nil {
			return err
		}
	}
	maxPayload := c.opts.MaxPayloadSize
	c.mu.RLock()
	if c.serverInfo != nil && c.serverInfo.MaxPayload > 0 {
		maxPayload = int(c.serverInfo.MaxPayload)
	}
	c.mu.RUnlock()
	if err := validatePayload(payload, maxPayload); err != nil {
		return err
	}

	var out *proto.OutMsg
	if header != nil {
		out = proto.NewHPub(subject, replyTo, header.raw, payload)
	} else {
		out = proto.NewPub(subject, replyTo, payload)
	}

	switch c.State() {
	case StateClosed:
		return ErrClosed
	case StateReconnecting:
		if err := c.reconnectBuf.offer(out); err != nil {
			return err
		}
		c.stats.messagesSent.Add(1)
		return nil
	default:
		if !c.primaryQ.push(out) {
			return wrapError(KindIllegalState, "outgoing queue full, message discarded", nil)
		}
		c.stats.messagesSent.Add(1)
		return nil
	}
}
