package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/transport/relay"
	"github.com/omochice/chatroom-client/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestClient_SendBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/send_message.php", r.URL.Path)
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL+"/", nil, time.Second, slogt.New(t))
	err := c.Send(context.Background(), protocol.RelayMessage{
		Sender:    "A",
		Recipient: "B",
		Message:   "hi",
		Type:      protocol.MessageTypeChat,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"sender":    "A",
		"recipient": "B",
		"message":   "hi",
		"type":      "chat",
	}, got)
}

func TestClient_SendStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "ok is not accepted", status: http.StatusOK, wantErr: chat.ErrProtocol},
		{name: "server error", status: http.StatusInternalServerError, wantErr: chat.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := relay.NewClient(srv.URL, nil, time.Second, slogt.New(t))
			err := c.Send(context.Background(), protocol.RelayMessage{Sender: "A", Recipient: "B", Type: protocol.MessageTypeChat})
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_Poll(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    []protocol.RelayMessage
		wantErr error
	}{
		{name: "empty body", status: http.StatusOK, body: ""},
		{name: "empty array", status: http.StatusOK, body: "[]"},
		{
			name:   "messages",
			status: http.StatusOK,
			body:   `[{"sender":"s","recipient":"a b","message":"hello","type":"system"}]`,
			want: []protocol.RelayMessage{
				{Sender: "s", Recipient: "a b", Message: "hello", Type: protocol.MessageTypeSystem},
			},
		},
		{name: "garbage", status: http.StatusOK, body: "Fatal error", wantErr: chat.ErrParse},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: chat.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recipient string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				recipient = r.URL.Query().Get("recipient")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := relay.NewClient(srv.URL, nil, time.Second, slogt.New(t))
			msgs, err := c.Poll(context.Background(), "a b&c")
			require.Equal(t, "a b&c", recipient)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, msgs)
		})
	}
}

func TestClient_PollTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := relay.NewClient(srv.URL, nil, 50*time.Millisecond, slogt.New(t))
	_, err := c.Poll(context.Background(), "a")
	require.ErrorIs(t, err, chat.ErrTransportIO)
}
