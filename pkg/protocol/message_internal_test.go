package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRelayMessage_fromWire(t *testing.T) {
	tests := []struct {
		name string
		w    wireMessage
		want RelayMessage
	}{
		{
			name: "all fields present",
			w: wireMessage{
				Sender:    strPtr("a"),
				Recipient: strPtr("b"),
				Message:   strPtr("hi"),
				Type:      strPtr("system"),
			},
			want: RelayMessage{Sender: "a", Recipient: "b", Message: "hi", Type: MessageTypeSystem},
		},
		{
			name: "missing type defaults to chat",
			w:    wireMessage{Sender: strPtr("a"), Message: strPtr("hi")},
			want: RelayMessage{Sender: "a", Message: "hi", Type: MessageTypeChat},
		},
		{
			name: "empty type defaults to chat",
			w:    wireMessage{Sender: strPtr("a"), Type: strPtr("")},
			want: RelayMessage{Sender: "a", Type: MessageTypeChat},
		},
		{
			name: "nothing present",
			w:    wireMessage{},
			want: RelayMessage{Type: MessageTypeChat},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got RelayMessage
			got.fromWire(tt.w)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestContainsMethod(t *testing.T) {
	ms := []Method{MethodRelay}
	require.True(t, containsMethod(ms, MethodRelay))
	require.False(t, containsMethod(ms, MethodDirect))
	require.False(t, containsMethod(nil, MethodDirect))
}
