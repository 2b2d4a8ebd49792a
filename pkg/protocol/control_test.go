package protocol_test

import (
	"testing"

	"github.com/omochice/chatroom-client/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestNewControlMessage(t *testing.T) {
	msg, err := protocol.NewControlMessage("me", "srv", protocol.Control{
		Action:   protocol.ActionHandshakeRequest,
		Nickname: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.MessageTypeControl, msg.Type)
	require.Equal(t, "me", msg.Sender)
	require.Equal(t, "srv", msg.Recipient)
	require.JSONEq(t, `{"action":"HANDSHAKE_REQUEST","nickname":"alice"}`, msg.Message)
}

func TestDecodeControl(t *testing.T) {
	c, err := protocol.DecodeControl(`{"action":"handshake_error","reason":"nickname taken"}`)
	require.NoError(t, err)
	require.True(t, c.Action.Is(protocol.ActionHandshakeError))
	require.Equal(t, "nickname taken", c.Reason)

	_, err = protocol.DecodeControl("[Server] plain text")
	require.Error(t, err)
}

func TestControl_EncodeOmitsEmpty(t *testing.T) {
	body, err := protocol.Control{Action: protocol.ActionClientDisconnect}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"CLIENT_DISCONNECT"}`, body)
}
