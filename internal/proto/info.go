package proto

import "github.com/tidwall/gjson"

// ServerInfo carries the fields of an INFO line consumed by the core. Per
// spec this is deliberately not a general-purpose JSON decode: only the
// fields the Connection and Reconnector act on are pulled out, using gjson
// path lookups rather than a struct-tagged unmarshal.
type ServerInfo struct {
	ServerID     string
	ServerName   string
	Version      string
	GoVersion    string
	Host         string
	Port         int64
	MaxPayload   int64
	Proto        int64
	ClientID     uint64
	AuthRequired bool
	TLSRequired  bool
	TLSAvailable bool
	HeadersOK    bool
	LameDuckMode bool
	Nonce        string
	ConnectURLs  []string
	JetStream    bool
}

// ParseInfo extracts the fields the core understands from a raw INFO
// payload (the JSON object following the "INFO " verb).
func ParseInfo(raw string) (*ServerInfo, error) {
	if !gjson.Valid(raw) {
		return nil, &ProtocolError{Reason: "malformed INFO payload"}
	}
	parsed := gjson.Parse(raw)

	info := &ServerInfo{
		ServerID:     parsed.Get("server_id").String(),
		ServerName:   parsed.Get("server_name").String(),
		Version:      parsed.Get("version").String(),
		GoVersion:    parsed.Get("go").String(),
		Host:         parsed.Get("host").String(),
		Port:         parsed.Get("port").Int(),
		MaxPayload:   parsed.Get("max_payload").Int(),
		Proto:        parsed.Get("proto").Int(),
		ClientID:     parsed.Get("client_id").Uint(),
		AuthRequired: parsed.Get("auth_required").Bool(),
		TLSRequired:  parsed.Get("tls_required").Bool(),
		TLSAvailable: parsed.Get("tls_available").Bool(),
		HeadersOK:    parsed.Get("headers").Bool(),
		LameDuckMode: parsed.Get("ldm").Bool(),
		Nonce:        parsed.Get("nonce").String(),
		JetStream:    parsed.Get("jetstream").Bool(),
	}
	for _, u := range parsed.Get("connect_urls").Array() {
		if s := u.String(); s != "" {
			info.ConnectURLs = append(info.ConnectURLs, s)
		}
	}
	return info, nil
}
