package linebus

import (
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Scheme identifies how a transport should treat an Endpoint's security.
type Scheme uint8

const (
	// SchemePlain never upgrades to TLS.
	SchemePlain Scheme = iota
	// SchemeTLS wraps the socket in TLS at dial time.
	SchemeTLS
	// SchemeOpenTLS defers the TLS upgrade until transport.upgradeToSecure
	// is called explicitly after the INFO exchange tells the client the
	// server requires it.
	SchemeOpenTLS
)

// Endpoint is a resolved server address.
type Endpoint struct {
	Scheme Scheme
	Host   string
	Port   int

	// Learned is set for endpoints discovered via server-pushed INFO
	// connect_urls rather than supplied in configuration.
	Learned bool
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// parseEndpoint parses a "scheme://host:port" server string. Recognized
// schemes: nats/tcp (plain), tls (SchemeTLS), opentls (SchemeOpenTLS). A
// string without "://" is read as a plain "host[:port]"; the port defaults
// to 4222.
func parseEndpoint(raw string) (Endpoint, error) {
	withScheme := raw
	if !strings.Contains(raw, "://") {
		withScheme = "nats://" + raw
	}
	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return Endpoint{}, wrapError(KindIllegalState, fmt.Sprintf("invalid server address %q", raw), err)
	}

	var scheme Scheme
	switch u.Scheme {
	case "", "nats", "tcp":
		scheme = SchemePlain
	case "tls":
		scheme = SchemeTLS
	case "opentls":
		scheme = SchemeOpenTLS
	default:
		return Endpoint{}, wrapError(KindIllegalState, fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 4222
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, wrapError(KindIllegalState, fmt.Sprintf("invalid port in %q", raw), err)
		}
	}
	return Endpoint{Scheme: scheme, Host: host, Port: port}, nil
}

// Pool holds the candidate endpoints for the Reconnector: the
// user-configured list plus any learned from server INFO. Iteration order
// is fixed at construction (preserved or shuffled once); learned endpoints
// appended later go to the back of the current order.
type Pool struct {
	mu        sync.Mutex
	endpoints []Endpoint
	cursor    int
}

// NewPool builds a pool from configured server strings, shuffling once
// unless noRandomize is set.
func NewPool(servers []string, noRandomize bool) (*Pool, error) {
	eps := make([]Endpoint, 0, len(servers))
	for _, s := range servers {
		ep, err := parseEndpoint(s)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	if !noRandomize {
		rand.Shuffle(len(eps), func(i, j int) { eps[i], eps[j] = eps[j], eps[i] })
	}
	return &Pool{endpoints: eps}, nil
}

// Len reports the number of known endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Snapshot returns a stable copy of the current endpoint list, starting
// from the current cursor so a pool iteration resumes where the last one
// left off.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, len(p.endpoints))
	n := copy(out, p.endpoints[p.cursor:])
	copy(out[n:], p.endpoints[:p.cursor])
	return out
}

// Advance moves the cursor past the given endpoint, so the next pool
// iteration starts after the one that just succeeded (round-robin style
// fairness across reconnects).
func (p *Pool) Advance(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.endpoints {
		if e == ep {
			p.cursor = (i + 1) % len(p.endpoints)
			return
		}
	}
}

// Merge folds newly learned endpoints (from INFO connect_urls) into the
// pool, deduplicating against existing entries (by host:port) and
// preserving the user-configured flag on anything already present. It
// reports whether any new endpoint was actually added.
func (p *Pool) Merge(learned []Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]struct{}, len(p.endpoints))
	for _, e := range p.endpoints {
		existing[e.String()] = struct{}{}
	}

	added := false
	for _, e := range learned {
		if _, ok := existing[e.String()]; ok {
			continue
		}
		e.Learned = true
		p.endpoints = append(p.endpoints, e)
		existing[e.String()] = struct{}{}
		added = true
	}
	return added
}
