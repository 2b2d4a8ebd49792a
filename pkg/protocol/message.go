// Package protocol defines the wire formats spoken with the discovery and relay services.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType represents the type of a relay message
type MessageType string

const (
	MessageTypeChat    MessageType = "chat"
	MessageTypeSystem  MessageType = "system"
	MessageTypeControl MessageType = "control"
)

// Is reports whether the type matches t, ignoring case.
// Relay peers are not consistent about capitalisation.
func (mt MessageType) Is(t MessageType) bool {
	return strings.EqualFold(string(mt), string(t))
}

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// RelayMessage is the unit exchanged through the relay service
type RelayMessage struct {
	Sender    string
	Recipient string
	Message   string
	Type      MessageType
}

// wireMessage mirrors the JSON object accepted and returned by the relay.
// Pointers distinguish missing keys from empty values.
type wireMessage struct {
	Sender    *string `json:"sender"`
	Recipient *string `json:"recipient"`
	Message   *string `json:"message"`
	Type      *string `json:"type"`
}

// Encode encodes the message into its JSON wire form
func (m *RelayMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes the JSON wire form into the message
func (m *RelayMessage) Decode(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m RelayMessage) MarshalJSON() ([]byte, error) {
	t := string(m.Type)
	return json.Marshal(wireMessage{
		Sender:    &m.Sender,
		Recipient: &m.Recipient,
		Message:   &m.Message,
		Type:      &t,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
// A missing message decodes as empty and a missing type as chat.
func (m *RelayMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.fromWire(w)
	return nil
}

func (m *RelayMessage) fromWire(w wireMessage) {
	*m = RelayMessage{Type: MessageTypeChat}
	if w.Sender != nil {
		m.Sender = *w.Sender
	}
	if w.Recipient != nil {
		m.Recipient = *w.Recipient
	}
	if w.Message != nil {
		m.Message = *w.Message
	}
	if w.Type != nil && *w.Type != "" {
		m.Type = MessageType(*w.Type)
	}
}

// DecodeMessages parses a poll response body.
// An empty body or an empty array yields no messages.
func DecodeMessages(body []byte) ([]RelayMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "[]" {
		return nil, nil
	}

	var msgs []RelayMessage
	if err := json.Unmarshal([]byte(trimmed), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}
