// Package chattest contains fake collaborators for exercising the client:
// a direct line server and an HTTP relay/discovery service.
package chattest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/omochice/chatroom-client/pkg/protocol"
)

// Handshake is what a client presented to a DirectServer.
type Handshake struct {
	ID       string
	Nickname string
}

// DirectServer speaks the direct line protocol on a loopback listener.
type DirectServer struct {
	reply  string
	silent bool

	ln   net.Listener
	quit chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	sessions map[net.Conn]bool
	active   int

	// Handshakes receives every handshake attempt.
	Handshakes chan Handshake
	// Lines receives every line sent by accepted clients.
	Lines chan string
}

// NewDirectServer starts a server answering handshakes with reply.
// Use "OK" to accept. The server is closed by t.Cleanup.
func NewDirectServer(t *testing.T, reply string) *DirectServer {
	t.Helper()
	return startDirect(t, reply, false)
}

// NewSilentDirectServer starts a server that reads handshakes but never answers.
func NewSilentDirectServer(t *testing.T) *DirectServer {
	t.Helper()
	return startDirect(t, "", true)
}

func startDirect(t *testing.T, reply string, silent bool) *DirectServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start direct server: %v", err)
	}

	s := &DirectServer{
		reply:      reply,
		silent:     silent,
		ln:         ln,
		quit:       make(chan struct{}),
		sessions:   make(map[net.Conn]bool),
		Handshakes: make(chan Handshake, 16),
		Lines:      make(chan string, 64),
	}

	s.wg.Add(1)
	go s.acceptConnections()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the listening address.
func (s *DirectServer) Addr() string {
	return s.ln.Addr().String()
}

// Descriptor returns a descriptor pointing at this server.
func (s *DirectServer) Descriptor(t *testing.T, uuid string, methods ...string) protocol.ServerDescriptor {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	d, err := protocol.NewServerDescriptor(uuid, "test-"+uuid, host, port, methods)
	if err != nil {
		t.Fatalf("Invalid descriptor: %v", err)
	}
	return d
}

// Active returns the number of connections the server still holds open.
func (s *DirectServer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Send writes a line to every accepted client.
func (s *DirectServer) Send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.sessions {
		c.Write([]byte(line + "\n"))
	}
}

// DropAll closes every accepted client connection.
func (s *DirectServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.sessions {
		c.Close()
	}
}

// Close stops the server and closes all connections.
func (s *DirectServer) Close() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *DirectServer) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.active++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *DirectServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, conn)
		s.active--
		s.mu.Unlock()
		conn.Close()
	}()

	go func() {
		<-s.quit
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	id, err := readLine(r)
	if err != nil {
		return
	}
	nick, err := readLine(r)
	if err != nil {
		return
	}

	select {
	case s.Handshakes <- Handshake{ID: id, Nickname: nick}:
	default:
	}

	if s.silent || s.reply != "OK" {
		if !s.silent {
			conn.Write([]byte(s.reply + "\n"))
		}
		// Hold the socket until the client releases it.
		for {
			if _, err := readLine(r); err != nil {
				return
			}
		}
	}

	// Registered before the accept token so a client that saw OK can be reached.
	s.mu.Lock()
	s.sessions[conn] = true
	conn.Write([]byte("OK\n"))
	s.mu.Unlock()

	for {
		line, err := readLine(r)
		if err != nil {
			return
		}
		select {
		case s.Lines <- line:
		case <-s.quit:
			return
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
