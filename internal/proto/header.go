package proto

import (
	"bytes"
	"fmt"
	"strings"
)

// Header is an ordered set of key/value pairs carried by HPUB/HMSG,
// preceded on the wire by the HeaderPreamble line and terminated by a
// blank line.
type Header struct {
	keys   []string
	values []string
}

// NewHeader returns an empty header block.
func NewHeader() *Header {
	return &Header{}
}

// Add appends a key/value pair. Repeated keys are preserved in order,
// matching the wire format (no deduplication is implied by the protocol).
func (h *Header) Add(key, value string) {
	h.keys = append(h.keys, key)
	h.values = append(h.values, value)
}

// Get returns the first value for key, or "" if absent.
func (h *Header) Get(key string) string {
	for i, k := range h.keys {
		if strings.EqualFold(k, key) {
			return h.values[i]
		}
	}
	return ""
}

// Len reports the number of pairs.
func (h *Header) Len() int { return len(h.keys) }

// Each calls fn for every key/value pair in wire order.
func (h *Header) Each(fn func(key, value string)) {
	for i := range h.keys {
		fn(h.keys[i], h.values[i])
	}
}

// Encode serializes the header block including the preamble and the
// terminating blank line, ready to be followed directly by the payload.
func (h *Header) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(HeaderPreamble)
	buf.Write(CRLF)
	for i := range h.keys {
		fmt.Fprintf(&buf, "%s: %s", h.keys[i], h.values[i])
		buf.Write(CRLF)
	}
	buf.Write(CRLF)
	return buf.Bytes()
}

// DecodeHeader parses a raw HMSG header block (as delivered in
// Message.HeaderBlock) back into key/value pairs. The leading preamble
// line is validated but discarded.
func DecodeHeader(raw []byte) (*Header, error) {
	lines := bytes.Split(raw, CRLF)
	if len(lines) == 0 || !bytes.HasPrefix(lines[0], []byte(HeaderPreamble)) {
		return nil, &ProtocolError{Reason: "missing header preamble"}
	}
	h := NewHeader()
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			return nil, &ProtocolError{Reason: "malformed header line"}
		}
		key := string(bytes.TrimSpace(line[:idx]))
		value := string(bytes.TrimSpace(line[idx+1:]))
		h.Add(key, value)
	}
	return h, nil
}
