package chat

import "github.com/omochice/chatroom-client/pkg/protocol"

// Mode is the active transport of a session.
type Mode int

const (
	ModeNone Mode = iota
	ModeDirect
	ModeRelay
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeDirect:
		return "DIRECT"
	case ModeRelay:
		return "RELAY"
	default:
		return "UNKNOWN"
	}
}

// State is a snapshot of the connection.
// Connected implies Mode != ModeNone and Server != nil.
type State struct {
	Mode      Mode
	Connected bool
	Server    *protocol.ServerDescriptor
	Nickname  string
}
