package linebus

import "github.com/anvilio/linebus/internal/proto"

// Header is an ordered set of key/value pairs carried alongside a message
// (HPUB/HMSG on the wire). It wraps the wire-format encoder/decoder in
// internal/proto so that type never needs to appear in this package's
// exported API.
type Header struct {
	raw *proto.Header
}

// NewHeader returns an empty header block.
func NewHeader() *Header {
	return &Header{raw: proto.NewHeader()}
}

// Add appends a key/value pair. Repeated keys are preserved in order.
func (h *Header) Add(key, value string) {
	h.raw.Add(key, value)
}

// Get returns the first value for key, or "" if absent.
func (h *Header) Get(key string) string {
	return h.raw.Get(key)
}

// Len reports the number of pairs.
func (h *Header) Len() int {
	return h.raw.Len()
}

// Each calls fn for every key/value pair in wire order.
func (h *Header) Each(fn func(key, value string)) {
	h.raw.Each(fn)
}
