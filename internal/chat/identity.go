// Package chat provides the core session model shared by all transports.
package chat

import "github.com/google/uuid"

// Identity is the client's session identity.
// It addresses relay messages and is the first token of the direct handshake.
type Identity string

// NewIdentity generates a fresh random identity.
func NewIdentity() Identity {
	return Identity(uuid.New().String())
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}
