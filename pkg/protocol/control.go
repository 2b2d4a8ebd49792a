package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action identifies a control operation carried inside a control message.
type Action string

const (
	ActionHandshakeRequest Action = "HANDSHAKE_REQUEST"
	ActionHandshakeOK      Action = "HANDSHAKE_OK"
	ActionHandshakeError   Action = "HANDSHAKE_ERROR"
	ActionClientDisconnect Action = "CLIENT_DISCONNECT"
	ActionServerShutdown   Action = "SERVER_SHUTDOWN"
)

// Is reports whether the action matches a, ignoring case.
func (a Action) Is(other Action) bool {
	return strings.EqualFold(string(a), string(other))
}

// Control is the payload nested in the message body of a control message.
type Control struct {
	Action   Action `json:"action"`
	Nickname string `json:"nickname,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Encode returns the JSON form used as a relay message body.
func (c Control) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode control payload: %w", err)
	}
	return string(data), nil
}

// DecodeControl parses the body of a control message.
func DecodeControl(body string) (Control, error) {
	var c Control
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return Control{}, fmt.Errorf("failed to decode control payload: %w", err)
	}
	return c, nil
}

// NewControlMessage builds a control message from sender to recipient.
func NewControlMessage(sender, recipient string, c Control) (RelayMessage, error) {
	body, err := c.Encode()
	if err != nil {
		return RelayMessage{}, err
	}
	return RelayMessage{
		Sender:    sender,
		Recipient: recipient,
		Message:   body,
		Type:      MessageTypeControl,
	}, nil
}
