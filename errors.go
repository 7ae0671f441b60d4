package linebus

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a ProtoError. Per-call failures are surfaced
// synchronously to the caller; the communication-issue kinds (IO, TLS,
// ProtocolError from the Reader) are instead passed to the error handler
// by the Connection, which fires Disconnected to the status listener and
// drives the Reconnector.
type ErrorKind uint8

const (
	KindClosed ErrorKind = iota
	KindDisconnected
	KindTimeout
	KindNoServers
	KindAuthFailed
	KindAuthViolation
	KindSlowConsumer
	KindProtocolError
	KindMaxPayloadExceeded
	KindIllegalState
	KindBadSubject
	KindTLS
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindClosed:
		return "closed"
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	case KindNoServers:
		return "no_servers"
	case KindAuthFailed:
		return "auth_failed"
	case KindAuthViolation:
		return "auth_violation"
	case KindSlowConsumer:
		return "slow_consumer"
	case KindProtocolError:
		return "protocol_error"
	case KindMaxPayloadExceeded:
		return "max_payload_exceeded"
	case KindIllegalState:
		return "illegal_state"
	case KindBadSubject:
		return "bad_subject"
	case KindTLS:
		return "tls_error"
	case KindIO:
		return "io_error"
	default:
		return "unknown"
	}
}

// ProtoError is the error type returned for every failure the core
// surfaces, carrying a classification plus an optional wrapped cause.
type ProtoError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *ProtoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("linebus: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("linebus: %s: %s", e.Kind, e.Msg)
}

func (e *ProtoError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, KindTimeout-sentinel) match on classification
// rather than pointer identity, since every call site that surfaces a
// ProtoError constructs its own instance.
func (e *ProtoError) Is(target error) bool {
	other, ok := target.(*ProtoError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind ErrorKind, msg string) *ProtoError {
	return &ProtoError{Kind: kind, Msg: msg}
}

func wrapError(kind ErrorKind, msg string, cause error) *ProtoError {
	return &ProtoError{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinel errors for errors.Is comparisons. Each is matched by kind, not
// identity — any ProtoError of the same Kind satisfies errors.Is against
// these, regardless of where it was constructed.
var (
	ErrClosed              = newError(KindClosed, "connection closed")
	ErrDisconnected        = newError(KindDisconnected, "not connected")
	ErrTimeout             = newError(KindTimeout, "timed out")
	ErrNoServers           = newError(KindNoServers, "no servers available")
	ErrAuthFailed          = newError(KindAuthFailed, "authentication failed")
	ErrAuthViolation       = newError(KindAuthViolation, "authorization violation")
	ErrSlowConsumer        = newError(KindSlowConsumer, "slow consumer")
	ErrProtocolError       = newError(KindProtocolError, "protocol error")
	ErrMaxPayloadExceeded  = newError(KindMaxPayloadExceeded, "maximum payload size exceeded")
	ErrIllegalState        = newError(KindIllegalState, "illegal state")
	ErrBadSubject          = newError(KindBadSubject, "invalid subject")
	ErrTLS                 = newError(KindTLS, "tls error")
	ErrIO                  = newError(KindIO, "i/o error")
)

// isAuthError classifies a server -ERR reason per the design note: any
// line mentioning authorization, authentication or account is treated as
// fatal/AuthFailed; everything else is reported but non-fatal.
func isAuthError(reason string) bool {
	lower := strings.ToLower(reason)
	for _, needle := range []string{"authorization", "authentication", "account"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
