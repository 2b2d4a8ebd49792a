package main

import (
	"testing"

	"github.com/omochice/chatroom-client/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestSelectServer(t *testing.T) {
	mk := func(uuid, name string) protocol.ServerDescriptor {
		d, err := protocol.NewServerDescriptor(uuid, name, "127.0.0.1", 7000, []string{"direct"})
		require.NoError(t, err)
		return d
	}
	servers := []protocol.ServerDescriptor{mk("a1", "Lobby"), mk("b2", "Games")}

	tests := []struct {
		name     string
		selector string
		want     string
	}{
		{name: "index", selector: "2", want: "b2"},
		{name: "uuid", selector: "a1", want: "a1"},
		{name: "name ignores case", selector: "games", want: "b2"},
		{name: "index out of range", selector: "3", want: ""},
		{name: "unknown", selector: "nope", want: ""},
		{name: "empty", selector: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectServer(servers, tt.selector)
			if tt.want == "" {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tt.want, got.UUID)
		})
	}
}
