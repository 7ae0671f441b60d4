package linebus

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/anvilio/linebus/internal/proto"
)

// subscribeInbox creates the single per-connection wildcard subscription
// that every Request reply is correlated against via a random token
// suffix, rather than issuing a fresh SUB/UNSUB per request (§4.E, §9).
func (c *Connection) subscribeInbox() {
	subject := c.inboxPrefix + "*"
	sub := &Subscription{
		SID:       c.registry.allocateSID(),
		Subject:   subject,
		Mode:      Push,
		conn:      c,
		autoUnsub: -1,
	}
	sub.handler = c.routeReply
	c.registry.add(sub)
	c.inboxSID = sub.SID
	c.enqueueControl(proto.NewSub(subject, "", sub.SID))
}

// routeReply delivers an inbox message to the one-shot waiter registered
// for its token, if any. Messages on the inbox subject that don't match a
// live token (expired, already answered, foreign traffic on a guessed
// prefix) are silently dropped.
func (c *Connection) routeReply(msg *Message) {
	token := msg.Subject[len(c.inboxPrefix):]
	c.requestsMu.Lock()
	ch, ok := c.requests[token]
	if ok {
		delete(c.requests, token)
	}
	c.requestsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// Request publishes payload on subject with the connection's shared inbox
// (plus a cryptographically random token, preventing cross-request leaks
// on the shared subject) as the reply-to, and blocks for a single reply or
// ctx's deadline.
func (c *Connection) Request(ctx context.Context, subject string, payload []byte) (*Message, error) {
	token, err := randomToken()
	if err != nil {
		return nil, wrapError(KindIllegalState, "failed to generate request token", err)
	}
	replyTo := c.inboxPrefix + token

	ch := make(chan *Message, 1)
	c.requestsMu.Lock()
	c.requests[token] = ch
	c.requestsMu.Unlock()
	defer func() {
		c.requestsMu.Lock()
		delete(c.requests, token)
		c.requestsMu.Unlock()
	}()

	if err := c.PublishRequest(subject, replyTo, payload); err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-c.closed:
		return nil, ErrClosed
	}
}

func randomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
