package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Method is a connection method advertised by a server.
type Method string

const (
	MethodDirect Method = "direct"
	MethodRelay  Method = "relay"
)

// ServerDescriptor describes a server returned by the discovery service.
// Values are only produced by ParseServerList and are never mutated.
type ServerDescriptor struct {
	UUID    string
	Name    string
	Host    string
	Port    int
	methods []Method
}

// NewServerDescriptor validates the fields and builds a descriptor.
// Unknown methods are dropped; at least one known method is required.
func NewServerDescriptor(uuid, name, host string, port int, methods []string) (ServerDescriptor, error) {
	switch {
	case strings.TrimSpace(uuid) == "":
		return ServerDescriptor{}, fmt.Errorf("missing uuid")
	case strings.TrimSpace(name) == "":
		return ServerDescriptor{}, fmt.Errorf("missing name")
	case strings.TrimSpace(host) == "":
		return ServerDescriptor{}, fmt.Errorf("missing host")
	case port < 1 || port > 65535:
		return ServerDescriptor{}, fmt.Errorf("invalid port %d", port)
	}

	var known []Method
	for _, raw := range methods {
		m := Method(strings.ToLower(strings.TrimSpace(raw)))
		if m != MethodDirect && m != MethodRelay {
			continue
		}
		if !containsMethod(known, m) {
			known = append(known, m)
		}
	}
	if len(known) == 0 {
		return ServerDescriptor{}, fmt.Errorf("no supported methods")
	}

	return ServerDescriptor{
		UUID:    uuid,
		Name:    name,
		Host:    host,
		Port:    port,
		methods: known,
	}, nil
}

// Methods returns a copy of the supported methods in advertised order.
func (s ServerDescriptor) Methods() []Method {
	out := make([]Method, len(s.methods))
	copy(out, s.methods)
	return out
}

// Supports reports whether the server advertises m.
func (s ServerDescriptor) Supports(m Method) bool {
	return containsMethod(s.methods, m)
}

// SupportsDirect reports whether a raw socket session can be attempted.
func (s ServerDescriptor) SupportsDirect() bool { return s.Supports(MethodDirect) }

// SupportsRelay reports whether a relay session can be attempted.
func (s ServerDescriptor) SupportsRelay() bool { return s.Supports(MethodRelay) }

// Addr returns host:port for dialing.
func (s ServerDescriptor) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Equal compares descriptors by identity.
func (s ServerDescriptor) Equal(other ServerDescriptor) bool {
	return s.UUID == other.UUID
}

// String returns the display form, e.g. "lobby (direct/relay)".
func (s ServerDescriptor) String() string {
	names := make([]string, len(s.methods))
	for i, m := range s.methods {
		names[i] = string(m)
	}
	return s.Name + " (" + strings.Join(names, "/") + ")"
}

func containsMethod(ms []Method, m Method) bool {
	for _, have := range ms {
		if have == m {
			return true
		}
	}
	return false
}

type wireServer struct {
	UUID    string      `json:"uuid"`
	Name    string      `json:"name"`
	Host    string      `json:"host"`
	Port    json.Number `json:"port"`
	Methods []string    `json:"supported_methods"`
}

// SkippedEntry records a discovery entry that failed validation.
type SkippedEntry struct {
	Index  int
	Reason string
}

// ParseServerList decodes the discovery response.
// Malformed or incomplete entries are skipped and reported, not fatal.
// Only a body that is not a JSON array is an error.
func ParseServerList(body []byte) ([]ServerDescriptor, []SkippedEntry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode server list: %w", err)
	}

	var (
		servers []ServerDescriptor
		skipped []SkippedEntry
	)
	for i, entry := range raw {
		var w wireServer
		if err := json.Unmarshal(entry, &w); err != nil {
			skipped = append(skipped, SkippedEntry{Index: i, Reason: err.Error()})
			continue
		}

		port, err := strconv.Atoi(w.Port.String())
		if err != nil {
			skipped = append(skipped, SkippedEntry{Index: i, Reason: fmt.Sprintf("invalid port %q", w.Port)})
			continue
		}

		s, err := NewServerDescriptor(w.UUID, w.Name, w.Host, port, w.Methods)
		if err != nil {
			skipped = append(skipped, SkippedEntry{Index: i, Reason: err.Error()})
			continue
		}
		servers = append(servers, s)
	}

	return servers, skipped, nil
}
