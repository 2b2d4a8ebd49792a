package chat

import "errors"

var (
	// ErrConnectTimeout is returned when a socket could not be opened in time.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrConnectRefused is returned when the remote end refused the connection.
	ErrConnectRefused = errors.New("connection refused")
	// ErrTransportIO covers read/write/request failures on an open transport.
	ErrTransportIO = errors.New("transport i/o error")
	// ErrHandshakeTimeout is returned when no accept or reject arrived in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrProtocol is returned for unexpected status codes or responses.
	ErrProtocol = errors.New("protocol error")
	// ErrParse is returned for malformed JSON payloads.
	ErrParse = errors.New("parse error")

	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrShutdown         = errors.New("client is shut down")
)

// HandshakeRejectedError is returned when the server explicitly refused the session.
type HandshakeRejectedError struct {
	Reason string
}

func (e *HandshakeRejectedError) Error() string {
	return "handshake rejected: " + e.Reason
}
