package direct_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/chattest"
	"github.com/omochice/chatroom-client/internal/transport/direct"
	"github.com/omochice/chatroom-client/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// recordingSink collects sink output.
type recordingSink struct {
	mu       sync.Mutex
	messages []string
	statuses []string
}

func (s *recordingSink) Status(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, text)
}

func (s *recordingSink) Message(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func testConfig() direct.Config {
	return direct.Config{
		DialTimeout:      time.Second,
		HandshakeTimeout: 200 * time.Millisecond,
		CloseWait:        500 * time.Millisecond,
	}
}

func TestTransport_HandshakeAccepted(t *testing.T) {
	srv := chattest.NewDirectServer(t, "OK")
	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	defer tr.Close()

	id := chat.NewIdentity()
	err := tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), id, "alice")
	require.NoError(t, err)

	select {
	case hs := <-srv.Handshakes:
		require.Equal(t, chattest.Handshake{ID: id.String(), Nickname: "alice"}, hs)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for handshake")
	}
}

func TestTransport_HandshakeFailures(t *testing.T) {
	tests := []struct {
		name   string
		server func(t *testing.T) *chattest.DirectServer
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rejected with reason",
			server: func(t *testing.T) *chattest.DirectServer { return chattest.NewDirectServer(t, "NICK_TAKEN") },
			check: func(t *testing.T, err error) {
				var rej *chat.HandshakeRejectedError
				require.True(t, errors.As(err, &rej), "got %v", err)
				require.Equal(t, "NICK_TAKEN", rej.Reason)
			},
		},
		{
			name:   "lowercase ok is not accepted",
			server: func(t *testing.T) *chattest.DirectServer { return chattest.NewDirectServer(t, "ok") },
			check: func(t *testing.T, err error) {
				var rej *chat.HandshakeRejectedError
				require.True(t, errors.As(err, &rej), "got %v", err)
			},
		},
		{
			name:   "no reply within timeout",
			server: chattest.NewSilentDirectServer,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, chat.ErrHandshakeTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tt.server(t)
			tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))

			err := tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), chat.NewIdentity(), "alice")
			require.Error(t, err)
			tt.check(t, err)

			// The client released its socket, so the server sees the hangup.
			require.Eventually(t, func() bool { return srv.Active() == 0 }, 2*time.Second, 10*time.Millisecond)

			require.ErrorIs(t, tr.Send(context.Background(), "hello"), chat.ErrNotConnected)
			require.NoError(t, tr.Close())
		})
	}
}

func TestTransport_HandshakeRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	server, err := protocol.NewServerDescriptor("s1", "gone", "127.0.0.1", addr.Port, []string{"direct"})
	require.NoError(t, err)

	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	err = tr.Handshake(context.Background(), server, chat.NewIdentity(), "alice")
	require.ErrorIs(t, err, chat.ErrConnectRefused)
}

func TestTransport_HandshakeEOF(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Close()
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	server, err := protocol.NewServerDescriptor("s1", "hangup", "127.0.0.1", port, []string{"direct"})
	require.NoError(t, err)

	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	err = tr.Handshake(context.Background(), server, chat.NewIdentity(), "alice")
	require.Error(t, err)
	require.NotErrorIs(t, err, chat.ErrHandshakeTimeout)
}

func TestTransport_ReceiveAndSend(t *testing.T) {
	srv := chattest.NewDirectServer(t, "OK")
	sink := &recordingSink{}
	tr := direct.New(testConfig(), sink, slogt.New(t))
	defer tr.Close()

	require.NoError(t, tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), chat.NewIdentity(), "alice"))

	lost := make(chan error, 1)
	tr.Start(func(err error) { lost <- err })

	require.Eventually(t, func() bool {
		srv.Send("[bob] hi alice")
		return len(sink.Messages()) > 0
	}, 2*time.Second, 50*time.Millisecond)
	require.Equal(t, "[bob] hi alice", sink.Messages()[0])

	require.NoError(t, tr.Send(context.Background(), "hello bob"))
	select {
	case line := <-srv.Lines:
		require.Equal(t, "hello bob", line)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for line")
	}

	select {
	case err := <-lost:
		t.Fatalf("unexpected loss: %v", err)
	default:
	}
}

func TestTransport_LostOnServerHangup(t *testing.T) {
	srv := chattest.NewDirectServer(t, "OK")
	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	defer tr.Close()

	require.NoError(t, tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), chat.NewIdentity(), "alice"))

	lost := make(chan error, 1)
	closeTook := make(chan time.Duration, 1)
	tr.Start(func(err error) {
		// Teardown from inside the callback must not wait on the loop.
		start := time.Now()
		tr.Close()
		closeTook <- time.Since(start)
		lost <- err
	})

	require.Eventually(t, func() bool { return srv.Active() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.DropAll()

	select {
	case err := <-lost:
		require.ErrorIs(t, err, chat.ErrTransportIO)
	case <-time.After(2 * time.Second):
		t.Fatal("onLost was not called")
	}
	require.Less(t, <-closeTook, 400*time.Millisecond)
}

func TestTransport_SendAfterServerHangup(t *testing.T) {
	srv := chattest.NewDirectServer(t, "OK")
	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	defer tr.Close()

	require.NoError(t, tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), chat.NewIdentity(), "alice"))
	require.Eventually(t, func() bool { return srv.Active() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.DropAll()

	// The first write after a reset may still be buffered by the kernel.
	var err error
	require.Eventually(t, func() bool {
		err = tr.Send(context.Background(), "anyone there?")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
	require.ErrorIs(t, err, chat.ErrTransportIO)
	require.NotErrorIs(t, err, chat.ErrNotConnected)
}

func TestTransport_CloseDoesNotReportLoss(t *testing.T) {
	srv := chattest.NewDirectServer(t, "OK")
	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))

	require.NoError(t, tr.Handshake(context.Background(), srv.Descriptor(t, "s1", "direct"), chat.NewIdentity(), "alice"))

	lost := make(chan error, 1)
	tr.Start(func(err error) { lost <- err })

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case err := <-lost:
		t.Fatalf("unexpected loss after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.Eventually(t, func() bool { return srv.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTransport_CloseWithoutHandshake(t *testing.T) {
	tr := direct.New(testConfig(), &recordingSink{}, slogt.New(t))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.Equal(t, chat.ModeDirect, tr.Mode())
}

func TestDefaultConfig(t *testing.T) {
	cfg := direct.DefaultConfig()
	require.Equal(t, 5*time.Second, cfg.DialTimeout)
	require.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.CloseWait)
}
