package discovery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/discovery"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_servers.php" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Fetch(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[
		{"uuid":"s1","name":"lobby","host":"127.0.0.1","port":7000,"supported_methods":["direct","relay"]},
		{"uuid":"","name":"broken","host":"h","port":1,"supported_methods":["direct"]}
	]`)

	c := discovery.New(srv.URL+"/", nil, time.Second, slogt.New(t))
	servers, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, "s1", servers[0].UUID)
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "", wantErr: chat.ErrProtocol},
		{name: "not json", status: http.StatusOK, body: "<html>", wantErr: chat.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body)
			c := discovery.New(srv.URL, nil, time.Second, slogt.New(t))

			servers, err := c.Fetch(context.Background())
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			require.Empty(t, servers)
		})
	}
}

func TestClient_FetchEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "blank body", body: " \n"},
		{name: "empty array", body: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, http.StatusOK, tt.body)
			c := discovery.New(srv.URL, nil, time.Second, slogt.New(t))

			servers, err := c.Fetch(context.Background())
			require.NoError(t, err)
			require.Empty(t, servers)
		})
	}
}

func TestClient_FetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := discovery.New(url, nil, time.Second, slogt.New(t))
	_, err := c.Fetch(context.Background())
	require.ErrorIs(t, err, chat.ErrTransportIO)
}
