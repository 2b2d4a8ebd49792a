package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

// AcceptToken is the line a server sends to accept the handshake.
const AcceptToken = "OK"

// Config holds the direct transport timeouts.
type Config struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// CloseWait bounds how long Close waits for the receive loop to exit.
	CloseWait time.Duration
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		CloseWait:        500 * time.Millisecond,
	}
}

// Transport is a single direct session.
// A Transport is used for one handshake and is discarded after Close.
type Transport struct {
	cfg  Config
	sink chat.Sink
	log  *slog.Logger

	mu     sync.Mutex
	conn   *Conn
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New creates a direct Transport delivering inbound lines to sink.
func New(cfg Config, sink chat.Sink, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:  cfg,
		sink: sink,
		log:  log.With("component", "direct"),
	}
}

// Mode implements client.Transport.
func (t *Transport) Mode() chat.Mode {
	return chat.ModeDirect
}

// Handshake dials the server, sends the identity and nickname lines,
// and waits for the accept token.
// On any failure the connection is closed before returning.
func (t *Transport) Handshake(ctx context.Context, server protocol.ServerDescriptor, id chat.Identity, nickname string) error {
	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", server.Addr())
	if err != nil {
		return classifyDialError(err)
	}
	conn := NewConn(nc)

	if err := t.exchange(ctx, conn, id, nickname); err != nil {
		conn.Close()
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return chat.ErrShutdown
	}
	t.conn = conn

	t.log.Info("Direct handshake accepted", "server", server.Addr(), "remote", conn.RemoteAddr())
	return nil
}

func (t *Transport) exchange(ctx context.Context, conn *Conn, id chat.Identity, nickname string) error {
	hctx := ctx
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	for _, line := range []string{id.String(), nickname} {
		if err := conn.WriteLine(hctx, line); err != nil {
			return fmt.Errorf("%w: sending handshake: %v", chat.ErrTransportIO, err)
		}
	}

	reply, err := conn.ReadLine(hctx)
	if err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
			return chat.ErrHandshakeTimeout
		case errors.Is(err, io.EOF):
			return &chat.HandshakeRejectedError{Reason: "No response"}
		default:
			return fmt.Errorf("%w: reading handshake reply: %v", chat.ErrTransportIO, err)
		}
	}

	if reply != AcceptToken {
		return &chat.HandshakeRejectedError{Reason: reply}
	}
	return nil
}

// Start launches the receive loop.
// onLost is called once, after the loop has exited, if the session ended
// without Close being called.
func (t *Transport) Start(onLost func(error)) {
	t.mu.Lock()
	if t.conn == nil || t.closed || t.done != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	conn, done := t.conn, t.done
	t.mu.Unlock()

	go func() {
		err := t.receiveLines(ctx, conn)
		close(done)
		if ctx.Err() == nil && onLost != nil {
			onLost(err)
		}
	}()
}

// receiveLines continuously forwards lines from the server to the sink
func (t *Transport) receiveLines(ctx context.Context, conn *Conn) error {
	for {
		line, err := conn.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: server closed the connection", chat.ErrTransportIO)
			}
			t.log.Error("Error reading from server", "error", err)
			return fmt.Errorf("%w: %v", chat.ErrTransportIO, err)
		}
		t.sink.Message(line)
	}
}

// Send writes one line to the server.
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return chat.ErrNotConnected
	}

	if err := conn.WriteLine(ctx, text); err != nil {
		return fmt.Errorf("%w: failed to send message: %v", chat.ErrTransportIO, err)
	}
	return nil
}

// Close stops the receive loop and releases the socket. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, cancel, done := t.conn, t.cancel, t.done
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(t.cfg.CloseWait):
			t.log.Warn("Receive loop did not exit in time")
		}
	}

	if conn == nil {
		return nil
	}
	t.log.Debug("Direct connection closed")
	return conn.Close()
}

func classifyDialError(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", chat.ErrConnectRefused, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %v", chat.ErrConnectTimeout, err)
	default:
		return fmt.Errorf("%w: %v", chat.ErrTransportIO, err)
	}
}
