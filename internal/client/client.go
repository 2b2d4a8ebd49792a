// Package client implements the connection orchestrator: it owns the
// connection state, picks a transport for each connect and reports
// progress through a chat.Hub.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/transport/direct"
	"github.com/omochice/chatroom-client/internal/transport/relay"
	"github.com/omochice/chatroom-client/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Transport is a single session attempt over one channel.
// Both direct and relay transports satisfy this interface.
type Transport interface {
	// Mode reports which channel the transport uses.
	Mode() chat.Mode

	// Handshake establishes the session. A nil error means the server accepted.
	Handshake(ctx context.Context, server protocol.ServerDescriptor, id chat.Identity, nickname string) error

	// Start begins delivering inbound traffic. onLost is called at most once
	// if the session ends without Close.
	Start(onLost func(error))

	// Send delivers one chat line to the server.
	Send(ctx context.Context, text string) error

	// Close tears the session down. It is idempotent.
	Close() error
}

// notifier is implemented by transports that can send control actions.
type notifier interface {
	Notify(ctx context.Context, action protocol.Action) error
}

// Config holds the orchestrator settings.
type Config struct {
	// DiscoveryURL is the base URL of the discovery service.
	DiscoveryURL string
	// RelayURL is the base URL of the relay service.
	RelayURL string

	Direct direct.Config
	Relay  relay.Config

	// RequestTimeout bounds each relay request and each outbound send.
	RequestTimeout time.Duration
	// DiscoveryTimeout bounds a server list fetch.
	DiscoveryTimeout time.Duration

	// Workers is the number of concurrently running background tasks.
	Workers int64
	// ShutdownGrace is how long Shutdown waits for running tasks before cancelling them.
	ShutdownGrace time.Duration

	HTTPClient *http.Client
	// Registerer receives the client metrics. Nil keeps them in a private registry.
	Registerer prometheus.Registerer
	// Clock drives relay polling and the shutdown grace timer. Nil means wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the production settings without service URLs.
func DefaultConfig() Config {
	return Config{
		Direct:           direct.DefaultConfig(),
		Relay:            relay.DefaultConfig(),
		RequestTimeout:   5 * time.Second,
		DiscoveryTimeout: 10 * time.Second,
		Workers:          8,
		ShutdownGrace:    2 * time.Second,
	}
}

// withDefaults fills every unset field from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()

	if cfg.Direct.DialTimeout <= 0 {
		cfg.Direct.DialTimeout = def.Direct.DialTimeout
	}
	if cfg.Direct.HandshakeTimeout <= 0 {
		cfg.Direct.HandshakeTimeout = def.Direct.HandshakeTimeout
	}
	if cfg.Direct.CloseWait <= 0 {
		cfg.Direct.CloseWait = def.Direct.CloseWait
	}
	if cfg.Relay.HandshakeTimeout <= 0 {
		cfg.Relay.HandshakeTimeout = def.Relay.HandshakeTimeout
	}
	if cfg.Relay.HandshakePollInterval <= 0 {
		cfg.Relay.HandshakePollInterval = def.Relay.HandshakePollInterval
	}
	if cfg.Relay.PollInterval <= 0 {
		cfg.Relay.PollInterval = def.Relay.PollInterval
	}
	if cfg.Relay.CloseWait <= 0 {
		cfg.Relay.CloseWait = def.Relay.CloseWait
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = def.DiscoveryTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Relay.Clock == nil {
		cfg.Relay.Clock = cfg.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
