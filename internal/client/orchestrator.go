package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/discovery"
	"github.com/omochice/chatroom-client/internal/transport/direct"
	"github.com/omochice/chatroom-client/internal/transport/relay"
	"github.com/omochice/chatroom-client/pkg/protocol"
	"go.uber.org/multierr"
)

// Client drives discovery, connection attempts and the active session.
// All intents return immediately; progress is published through Hub.
type Client struct {
	cfg       Config
	id        chat.Identity
	hub       *chat.Hub
	log       *slog.Logger
	discovery *discovery.Client
	relay     *relay.Client
	pool      *pool
	metrics   *metrics

	mu         sync.Mutex
	state      chat.State
	active     Transport
	connecting bool
	shutdown   bool
}

// New creates a Client with a fresh identity.
func New(cfg Config) (*Client, error) {
	if cfg.DiscoveryURL == "" || cfg.RelayURL == "" {
		return nil, fmt.Errorf("%w: discovery and relay URLs are required", chat.ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	log := cfg.Logger.With("component", "client")
	c := &Client{
		cfg:       cfg,
		id:        chat.NewIdentity(),
		hub:       chat.NewHub(cfg.Logger),
		log:       log,
		discovery: discovery.New(cfg.DiscoveryURL, cfg.HTTPClient, cfg.DiscoveryTimeout, cfg.Logger),
		relay:     relay.NewClient(cfg.RelayURL, cfg.HTTPClient, cfg.RequestTimeout, cfg.Logger),
		pool:      newPool(cfg.Workers, cfg.Clock, log),
		metrics:   m,
	}

	c.log.Info("Client initialized", "identity", c.id)
	c.hub.Status("Initialized. Client UUID: " + c.id.String())
	return c, nil
}

// Identity returns the identity used for every session of this Client.
func (c *Client) Identity() chat.Identity {
	return c.id
}

// Hub returns the event hub carrying status, messages, state and servers.
func (c *Client) Hub() *chat.Hub {
	return c.hub
}

// State returns a snapshot of the connection state.
func (c *Client) State() chat.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FetchServers refreshes the server list in the background.
// Failures are reported through the hub and leave an empty list.
func (c *Client) FetchServers() {
	ok := c.pool.Go(func(ctx context.Context) {
		c.hub.Status("Fetching server list...")

		servers, err := c.discovery.Fetch(ctx)
		if err != nil {
			c.hub.SetServers(nil)
			c.networkError(discoveryErrorContext(err), err)
			return
		}

		c.hub.SetServers(servers)
		if len(servers) == 0 {
			c.hub.Status("No active servers found.")
		} else {
			c.hub.Status("Server list updated. Please select a server.")
		}
	})
	if !ok {
		c.log.Debug("Ignoring server list refresh after shutdown")
	}
}

// Connect starts connecting to server as nickname.
// Invalid requests are rejected synchronously; the attempt itself runs
// in the background, trying direct first and relay second.
func (c *Client) Connect(server *protocol.ServerDescriptor, nickname string) error {
	nickname = strings.TrimSpace(nickname)

	c.mu.Lock()
	switch {
	case c.shutdown:
		c.mu.Unlock()
		return chat.ErrShutdown
	case c.state.Connected || c.connecting:
		c.mu.Unlock()
		c.hub.Message("[System] Already connected. Disconnect first.")
		return chat.ErrAlreadyConnected
	case server == nil:
		c.mu.Unlock()
		c.hub.Message("[Error] No server selected.")
		c.hub.Status("Connection failed: No server selected.")
		return fmt.Errorf("%w: no server selected", chat.ErrInvalidArgument)
	case nickname == "":
		c.mu.Unlock()
		c.hub.Message("[Error] Nickname cannot be empty.")
		c.hub.Status("Connection failed: Nickname required.")
		return fmt.Errorf("%w: nickname required", chat.ErrInvalidArgument)
	}
	c.connecting = true
	c.state.Nickname = nickname
	c.mu.Unlock()

	srv := *server
	c.hub.Status(fmt.Sprintf("Connecting to %s as %s...", srv.Name, nickname))
	c.hub.Message("[System] Attempting connection to: " + srv.Name)

	if !c.pool.Go(func(ctx context.Context) { c.connect(ctx, srv, nickname) }) {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return chat.ErrShutdown
	}
	return nil
}

func (c *Client) connect(ctx context.Context, srv protocol.ServerDescriptor, nickname string) {
	if srv.SupportsDirect() {
		c.hub.Status(fmt.Sprintf("Trying DIRECT connection to %s...", srv.Addr()))
		if c.attempt(ctx, c.newDirect(), srv, nickname) {
			return
		}
		c.hub.Status("Direct connection failed. Trying Relay...")
		c.hub.Message("[System] Direct connection failed.")
	}

	if srv.SupportsRelay() {
		c.hub.Status(fmt.Sprintf("Trying RELAY connection via %s...", c.cfg.RelayURL))
		if c.attempt(ctx, c.newRelay(), srv, nickname) {
			return
		}
		c.hub.Status("Relay connection failed.")
		c.hub.Message("[System] Relay connection failed.")
	}

	c.mu.Lock()
	c.connecting = false
	shutdown := c.shutdown
	c.mu.Unlock()
	if shutdown {
		return
	}

	c.log.Warn("All connection methods failed", "server", srv.UUID)
	c.hub.Status("Connection failed to " + srv.Name)
	c.hub.Message(fmt.Sprintf("[Error] Failed to connect to server '%s'.", srv.Name))
}

// attempt runs one handshake and installs tr on success.
// It returns true when no further method should be tried.
func (c *Client) attempt(ctx context.Context, tr Transport, srv protocol.ServerDescriptor, nickname string) bool {
	err := tr.Handshake(ctx, srv, c.id, nickname)
	c.metrics.RecordAttempt(tr.Mode(), err)
	if err != nil {
		// The context only ends when the pool stops.
		interrupted := ctx.Err() != nil
		if interrupted {
			err = fmt.Errorf("%w: %w", chat.ErrShutdown, err)
		}
		c.log.Warn("Handshake failed", "mode", tr.Mode(), "server", srv.UUID, "error", err)
		c.hub.Message(handshakeFailure(tr.Mode(), err))
		if cerr := tr.Close(); cerr != nil {
			c.log.Debug("Error closing failed transport", "error", cerr)
		}
		if interrupted {
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
		}
		return interrupted
	}

	c.mu.Lock()
	if c.shutdown {
		c.connecting = false
		c.mu.Unlock()
		c.log.Info("Discarding session established during shutdown", "mode", tr.Mode())
		tr.Close()
		return true
	}
	c.active = tr
	c.connecting = false
	c.state = chat.State{Mode: tr.Mode(), Connected: true, Server: &srv, Nickname: nickname}
	c.metrics.SessionStarted()

	// Published under the lock so a concurrent release reports after us.
	c.hub.SetState(c.state)
	c.hub.Status(fmt.Sprintf("Connected (%s) to %s", tr.Mode(), srv.Name))
	switch tr.Mode() {
	case chat.ModeDirect:
		c.hub.Message("[System] Direct connection established!")
		c.hub.Message("[System] Direct message listener started.")
	case chat.ModeRelay:
		c.hub.Message("[System] Relay connection established!")
		c.hub.Message("[System] Relay message polling started.")
	}
	c.mu.Unlock()

	c.log.Info("Connected", "mode", tr.Mode(), "server", srv.UUID, "nickname", nickname)

	tr.Start(func(err error) { c.connectionLost(tr, err) })
	return true
}

func (c *Client) newDirect() Transport {
	sink := countingSink{Sink: c.hub, mode: chat.ModeDirect, metrics: c.metrics}
	return direct.New(c.cfg.Direct, sink, c.cfg.Logger)
}

func (c *Client) newRelay() Transport {
	sink := countingSink{Sink: c.hub, mode: chat.ModeRelay, metrics: c.metrics}
	return relay.New(c.cfg.Relay, c.relay, sink, c.cfg.Logger)
}

// Send hands text to the active transport in the background.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	tr := c.active
	c.mu.Unlock()

	if tr == nil {
		c.hub.Message("[Error] Not connected.")
		return chat.ErrNotConnected
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", chat.ErrInvalidArgument)
	}

	ok := c.pool.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if err := tr.Send(ctx, text); err != nil {
			c.sendFailed(tr, err)
			return
		}
		c.metrics.RecordSent(tr.Mode())
	})
	if !ok {
		return chat.ErrShutdown
	}
	return nil
}

func (c *Client) sendFailed(tr Transport, err error) {
	if errors.Is(err, chat.ErrNotConnected) {
		c.log.Debug("Dropping message for closed transport", "mode", tr.Mode())
		return
	}
	c.log.Error("Failed to send message", "mode", tr.Mode(), "error", err)

	switch tr.Mode() {
	case chat.ModeDirect:
		c.endSession(tr, "[Error] Failed to send message. Connection lost.")
	case chat.ModeRelay:
		c.endSession(tr, "[Error] Failed to send message via relay.", "[Error] Lost connection to Relay service.")
	}
}

// connectionLost is the onLost callback of the active transport.
func (c *Client) connectionLost(tr Transport, err error) {
	c.log.Warn("Connection lost", "mode", tr.Mode(), "error", err)

	switch tr.Mode() {
	case chat.ModeDirect:
		c.endSession(tr, "[Error] Direct connection lost: "+err.Error())
	case chat.ModeRelay:
		c.endSession(tr, "[Error] Lost connection to Relay service.")
	}
}

// endSession resets after an unexpected end of tr. It does nothing when tr
// is no longer the active transport.
func (c *Client) endSession(tr Transport, notes ...string) {
	if !c.release(tr) {
		return
	}
	for _, n := range notes {
		c.hub.Message(n)
	}
	if err := tr.Close(); err != nil {
		c.log.Debug("Error closing transport", "error", err)
	}
	c.metrics.SessionEnded(tr.Mode(), true)
	c.hub.Message("[System] Disconnected.")
	c.hub.Status("Disconnected.")
}

// release clears the session if tr is still active and reports whether it did.
// Exactly one caller wins for a given transport.
func (c *Client) release(tr Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tr == nil || c.active != tr {
		return false
	}
	c.active = nil
	c.state = chat.State{Mode: chat.ModeNone, Nickname: c.state.Nickname}
	c.hub.SetState(c.state)
	return true
}

// Disconnect ends the active session. It is a no-op when not connected.
func (c *Client) Disconnect() {
	if err := c.disconnect(); err != nil {
		c.log.Debug("Error closing transport", "error", err)
	}
}

func (c *Client) disconnect() error {
	c.mu.Lock()
	tr := c.active
	c.mu.Unlock()

	if !c.release(tr) {
		return nil
	}

	c.hub.Message("[System] Disconnecting...")
	c.hub.Status("Disconnecting...")

	if n, ok := tr.(notifier); ok {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		if err := n.Notify(ctx, protocol.ActionClientDisconnect); err != nil {
			c.log.Debug("Disconnect notice not delivered", "error", err)
		}
		cancel()
	}

	err := tr.Close()
	c.metrics.SessionEnded(tr.Mode(), false)
	c.log.Info("Disconnected", "mode", tr.Mode())
	c.hub.Message("[System] Disconnected.")
	c.hub.Status("Disconnected.")
	return err
}

// Shutdown disconnects and stops all background work. It is idempotent.
// The returned error aggregates transport close errors and a worker pool
// that did not drain within the grace period.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	c.hub.Status("Shutting down...")

	err := c.disconnect()
	err = multierr.Append(err, c.pool.Stop(c.cfg.ShutdownGrace))

	c.log.Info("Client shutdown complete")
	return err
}

// networkError reports a failure with its context on both outputs.
func (c *Client) networkError(what string, err error) {
	c.log.Error(what, "error", err)
	c.hub.Status("Error: " + what)
	c.hub.Message(fmt.Sprintf("[Error] %s: %v", what, err))
}

func discoveryErrorContext(err error) string {
	switch {
	case errors.Is(err, chat.ErrProtocol):
		return "Error fetching server list"
	case errors.Is(err, chat.ErrTransportIO):
		return "Error connecting to discovery service"
	default:
		return "Error processing server list"
	}
}

// handshakeFailure returns the message log line for a failed handshake.
func handshakeFailure(mode chat.Mode, err error) string {
	var rej *chat.HandshakeRejectedError
	isRejected := errors.As(err, &rej)

	if errors.Is(err, chat.ErrShutdown) || errors.Is(err, context.Canceled) {
		return "[System] Handshake interrupted."
	}

	if mode == chat.ModeDirect {
		switch {
		case isRejected:
			return "[Error] Server rejected direct connection: " + rej.Reason
		case errors.Is(err, chat.ErrConnectTimeout), errors.Is(err, chat.ErrHandshakeTimeout):
			return "[Error] Direct connection timed out."
		case errors.Is(err, chat.ErrConnectRefused):
			return "[Error] Direct connection refused by server."
		case errors.Is(err, chat.ErrTransportIO):
			return "[Error] IO error during direct connection."
		default:
			return "[Error] Unexpected error during direct connection."
		}
	}

	switch {
	case isRejected:
		return "[Error] Relay handshake rejected: " + rej.Reason
	case errors.Is(err, chat.ErrHandshakeTimeout):
		return "[Error] Relay handshake timed out."
	case errors.Is(err, relay.ErrHandshakeRequest):
		return "[Error] Failed to send relay handshake request."
	case errors.Is(err, relay.ErrHandshakePoll):
		return "[Error] Failed to poll relay service during handshake."
	default:
		return "[Error] Relay handshake failed: " + err.Error()
	}
}
