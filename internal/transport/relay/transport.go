package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

// Config holds the relay session timing.
type Config struct {
	// HandshakeTimeout bounds the whole handshake poll cycle.
	HandshakeTimeout time.Duration
	// HandshakePollInterval is the sleep between handshake polls.
	HandshakePollInterval time.Duration
	// PollInterval is the period of the session poll loop.
	PollInterval time.Duration
	// CloseWait bounds how long Close waits for the poll loop to exit.
	CloseWait time.Duration

	// Clock drives handshake deadlines and the poll ticker. Nil means wall clock.
	Clock clock.Clock
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:      10 * time.Second,
		HandshakePollInterval: 500 * time.Millisecond,
		PollInterval:          3 * time.Second,
		CloseWait:             500 * time.Millisecond,
	}
}

// Transport is a single relay session.
// A Transport is used for one handshake and is discarded after Close.
type Transport struct {
	cfg    Config
	client *Client
	clock  clock.Clock
	sink   chat.Sink
	log    *slog.Logger

	mu     sync.Mutex
	id     chat.Identity
	server *protocol.ServerDescriptor
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New creates a relay Transport delivering inbound messages to sink.
func New(cfg Config, client *Client, sink chat.Sink, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Transport{
		cfg:    cfg,
		client: client,
		clock:  clk,
		sink:   sink,
		log:    log.With("component", "relay"),
	}
}

// Mode implements client.Transport.
func (t *Transport) Mode() chat.Mode {
	return chat.ModeRelay
}

// Handshake failure causes, wrapped together with the underlying error.
var (
	ErrHandshakeRequest = errors.New("failed to send handshake request")
	ErrHandshakePoll    = errors.New("failed to poll relay during handshake")
)

// Handshake sends a handshake request to the server and polls until the
// server accepts or rejects it. The whole exchange, request included, is
// bounded by the handshake timeout.
func (t *Transport) Handshake(ctx context.Context, server protocol.ServerDescriptor, id chat.Identity, nickname string) error {
	hctx, cancel := t.clock.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	req, err := protocol.NewControlMessage(id.String(), server.UUID, protocol.Control{
		Action:   protocol.ActionHandshakeRequest,
		Nickname: nickname,
	})
	if err != nil {
		return err
	}
	if err := t.client.Send(hctx, req); err != nil {
		if hctx.Err() != nil {
			return handshakeExpired(ctx)
		}
		return fmt.Errorf("%w: %w", ErrHandshakeRequest, err)
	}
	t.sink.Message("[System] Relay handshake request sent. Waiting for response...")

	for {
		msgs, err := t.client.Poll(hctx, id.String())
		if hctx.Err() != nil {
			return handshakeExpired(ctx)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakePoll, err)
		}

		accepted, err := t.handshakeReply(server, msgs)
		if err != nil {
			return err
		}
		if accepted {
			return t.accept(id, server)
		}

		select {
		case <-hctx.Done():
			return handshakeExpired(ctx)
		case <-t.clock.After(t.cfg.HandshakePollInterval):
		}
	}
}

func (t *Transport) accept(id chat.Identity, server protocol.ServerDescriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return chat.ErrShutdown
	}
	t.id = id
	t.server = &server
	t.log.Info("Relay handshake accepted", "server", server.UUID)
	t.sink.Message("[System] Received HANDSHAKE_OK from server.")
	return nil
}

// handshakeExpired reports why the handshake context ended: the caller
// cancelled it, or the handshake timeout elapsed.
func handshakeExpired(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("%w: %w", chat.ErrTransportIO, err)
	}
	return chat.ErrHandshakeTimeout
}

// handshakeReply looks for the server's verdict among polled messages.
// Everything else is ignored.
func (t *Transport) handshakeReply(server protocol.ServerDescriptor, msgs []protocol.RelayMessage) (bool, error) {
	for _, m := range msgs {
		if m.Sender != server.UUID || !m.Type.Is(protocol.MessageTypeControl) {
			continue
		}
		c, err := protocol.DecodeControl(m.Message)
		if err != nil {
			t.log.Debug("Ignoring unparsable control message during handshake", "error", err)
			continue
		}
		switch {
		case c.Action.Is(protocol.ActionHandshakeOK):
			return true, nil
		case c.Action.Is(protocol.ActionHandshakeError):
			reason := c.Reason
			if reason == "" {
				reason = "Unknown reason"
			}
			return false, &chat.HandshakeRejectedError{Reason: reason}
		}
	}
	return false, nil
}

// Start launches the poll loop. The first poll happens immediately.
// onLost is called once, after the loop has exited, if the session ended
// without Close being called.
func (t *Transport) Start(onLost func(error)) {
	t.mu.Lock()
	if t.server == nil || t.closed || t.done != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	id, server, done := t.id, *t.server, t.done
	t.mu.Unlock()

	go func() {
		err := t.pollLoop(ctx, id, server)
		close(done)
		if ctx.Err() == nil && onLost != nil {
			onLost(err)
		}
	}()
}

func (t *Transport) pollLoop(ctx context.Context, id chat.Identity, server protocol.ServerDescriptor) error {
	ticker := t.clock.Ticker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := t.pollOnce(ctx, id, server); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context, id chat.Identity, server protocol.ServerDescriptor) error {
	msgs, err := t.client.Poll(ctx, id.String())
	if err != nil {
		if errors.Is(err, chat.ErrParse) {
			t.log.Warn("Error parsing relay messages", "error", err)
			t.sink.Message("[Error] Could not parse message from relay.")
			return nil
		}
		t.log.Error("Error polling relay", "error", err)
		return err
	}

	for _, m := range msgs {
		t.dispatch(server, m)
	}
	return nil
}

func (t *Transport) dispatch(server protocol.ServerDescriptor, m protocol.RelayMessage) {
	if m.Sender != server.UUID {
		t.log.Info("Received relay message from unexpected sender", "sender", m.Sender, "expected", server.UUID)
		return
	}

	switch {
	case m.Type.Is(protocol.MessageTypeChat), m.Type.Is(protocol.MessageTypeSystem):
		t.sink.Message(m.Message)
	case m.Type.Is(protocol.MessageTypeControl):
		t.sink.Message("[Control from Server]: " + m.Message)
		c, err := protocol.DecodeControl(m.Message)
		if err == nil && c.Action.Is(protocol.ActionServerShutdown) {
			t.log.Warn("Server announced shutdown", "server", server.UUID)
			t.sink.Message("[System] Server is shutting down!")
			t.sink.Status("Server " + server.Name + " is shutting down")
		}
	default:
		t.sink.Message("[Unknown Type from Server] " + m.Message)
	}
}

// Send posts a chat message to the connected server.
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	if t.closed || t.server == nil {
		t.mu.Unlock()
		return chat.ErrNotConnected
	}
	id, server := t.id, *t.server
	t.mu.Unlock()

	return t.client.Send(ctx, protocol.RelayMessage{
		Sender:    id.String(),
		Recipient: server.UUID,
		Message:   text,
		Type:      protocol.MessageTypeChat,
	})
}

// Notify posts a control action to the server.
// It is attempted even after Close so that a disconnect notice can follow teardown.
func (t *Transport) Notify(ctx context.Context, action protocol.Action) error {
	t.mu.Lock()
	if t.server == nil {
		t.mu.Unlock()
		return chat.ErrNotConnected
	}
	id, server := t.id, *t.server
	t.mu.Unlock()

	msg, err := protocol.NewControlMessage(id.String(), server.UUID, protocol.Control{Action: action})
	if err != nil {
		return err
	}
	return t.client.Send(ctx, msg)
}

// Close stops the poll loop. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
			t.log.Debug("Relay polling stopped")
		case <-time.After(t.cfg.CloseWait):
			t.log.Warn("Poll loop did not exit in time")
		}
	}
	return nil
}
