package linebus

import (
	"strings"
	"unicode/utf8"
)

// Subject limits (defaults when not configured).
const (
	// DefaultMaxSubjectLength bounds the length of a subject or subject
	// filter accepted by PUBLISH/SUBSCRIBE.
	DefaultMaxSubjectLength = 65535

	// DefaultMaxPayloadSize is the default cap on a single outbound
	// payload, overridden by the server's negotiated max_payload once
	// INFO has been received.
	DefaultMaxPayloadSize = 1 << 20
)

func getLimit(configured, defaultLimit int) int {
	if configured > 0 {
		return configured
	}
	return defaultLimit
}

// validatePublishSubject validates a subject for publishing. Wildcards are
// a routing construct honored by the broker, not the publisher, so they
// are rejected here.
func validatePublishSubject(subject string, opts *options) error {
	if subject == "" {
		return wrapError(KindBadSubject, "subject cannot be empty", nil)
	}

	maxLen := getLimit(opts.MaxSubjectLength, DefaultMaxSubjectLength)
	if len(subject) > maxLen {
		return wrapError(KindBadSubject, "subject exceeds maximum length", nil)
	}

	if strings.ContainsAny(subject, " \t\r\n") {
		return wrapError(KindBadSubject, "subject contains whitespace", nil)
	}
	if strings.Contains(subject, "*") || strings.Contains(subject, ">") {
		return wrapError(KindBadSubject, "subject contains a wildcard, which is not allowed in PUBLISH", nil)
	}
	if !utf8.ValidString(subject) {
		return wrapError(KindBadSubject, "subject is not valid UTF-8", nil)
	}
	return nil
}

// validateSubscribeSubject validates a subject filter for subscribing.
// Subscribe filters may contain the broker's wildcards; the client never
// interprets them locally — the server has already matched by the time a
// message arrives, which is why delivery is routed by SID rather than by
// re-matching the subject (§4.E).
func validateSubscribeSubject(subject string, opts *options) error {
	if subject == "" {
		return wrapError(KindBadSubject, "subject filter cannot be empty", nil)
	}

	maxLen := getLimit(opts.MaxSubjectLength, DefaultMaxSubjectLength)
	if len(subject) > maxLen {
		return wrapError(KindBadSubject, "subject filter exceeds maximum length", nil)
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return wrapError(KindBadSubject, "subject filter contains whitespace", nil)
	}
	if !utf8.ValidString(subject) {
		return wrapError(KindBadSubject, "subject filter is not valid UTF-8", nil)
	}

	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if strings.Contains(tok, "*") && tok != "*" {
			return wrapError(KindBadSubject, "'*' must occupy an entire token", nil)
		}
		if strings.Contains(tok, ">") {
			if tok != ">" {
				return wrapError(KindBadSubject, "'>' must occupy an entire token", nil)
			}
			if i != len(tokens)-1 {
				return wrapError(KindBadSubject, "'>' must be the last token", nil)
			}
		}
	}
	return nil
}

// validatePayload validates an outgoing payload against the configured or
// server-negotiated limit.
func validatePayload(payload []byte, maxPayload int) error {
	if maxPayload > 0 && len(payload) > maxPayload {
		return wrapError(KindMaxPayloadExceeded, "payload exceeds server max_payload", nil)
	}
	return nil
}
