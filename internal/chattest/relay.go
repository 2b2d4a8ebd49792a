package chattest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

// Responder is called for every message posted to a Relay.
// Returned messages are queued for delivery.
type Responder func(msg protocol.RelayMessage) []protocol.RelayMessage

// Relay is an in-memory relay and discovery service.
type Relay struct {
	srv    *httptest.Server
	router *mux.Router

	mu          sync.Mutex
	queues      map[string][]protocol.RelayMessage
	sent        []protocol.RelayMessage
	polls       map[string]int
	pollStatus  int
	pollBodies  []string
	pollDelay   time.Duration
	sendStatus  int
	serversBody string
	responder   Responder
}

// NewRelay starts a Relay. It is closed by t.Cleanup.
func NewRelay(t *testing.T) *Relay {
	t.Helper()

	r := &Relay{
		router:      mux.NewRouter(),
		queues:      make(map[string][]protocol.RelayMessage),
		polls:       make(map[string]int),
		sendStatus:  http.StatusAccepted,
		serversBody: "[]",
	}
	r.router.HandleFunc("/send_message.php", r.handleSend).Methods(http.MethodPost)
	r.router.HandleFunc("/get_messages.php", r.handlePoll).Methods(http.MethodGet)
	r.router.HandleFunc("/get_servers.php", r.handleServers).Methods(http.MethodGet)

	r.srv = httptest.NewServer(r.router)
	t.Cleanup(r.srv.Close)
	return r
}

// URL returns the base URL serving every endpoint.
func (r *Relay) URL() string {
	return r.srv.URL
}

// Close shuts the HTTP server down, making every later request fail.
func (r *Relay) Close() {
	r.srv.Close()
}

// Enqueue queues messages for their recipients.
func (r *Relay) Enqueue(msgs ...protocol.RelayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.queues[m.Recipient] = append(r.queues[m.Recipient], m)
	}
}

// Sent returns every message posted so far.
func (r *Relay) Sent() []protocol.RelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.RelayMessage(nil), r.sent...)
}

// Polls returns how many polls recipient made.
func (r *Relay) Polls(recipient string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[recipient]
}

// SetPollStatus makes every poll answer with status. Zero restores normal behavior.
func (r *Relay) SetPollStatus(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollStatus = status
}

// QueuePollBody makes the next poll return body verbatim with status 200.
func (r *Relay) QueuePollBody(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollBodies = append(r.pollBodies, body)
}

// SetPollDelay makes every poll wait d before it is answered.
func (r *Relay) SetPollDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollDelay = d
}

// SetSendStatus sets the status returned for posted messages.
func (r *Relay) SetSendStatus(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendStatus = status
}

// SetServers sets the raw discovery response body.
func (r *Relay) SetServers(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serversBody = body
}

// SetResponder installs a hook run for every posted message.
func (r *Relay) SetResponder(fn Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responder = fn
}

// AcceptHandshakes makes serverUUID answer every handshake request with HANDSHAKE_OK.
func (r *Relay) AcceptHandshakes(serverUUID string) {
	r.SetResponder(HandshakeResponder(serverUUID, protocol.Control{Action: protocol.ActionHandshakeOK}))
}

// HandshakeResponder answers handshake requests addressed to serverUUID with reply.
func HandshakeResponder(serverUUID string, reply protocol.Control) Responder {
	return func(msg protocol.RelayMessage) []protocol.RelayMessage {
		if msg.Recipient != serverUUID || !msg.Type.Is(protocol.MessageTypeControl) {
			return nil
		}
		c, err := protocol.DecodeControl(msg.Message)
		if err != nil || !c.Action.Is(protocol.ActionHandshakeRequest) {
			return nil
		}
		resp, err := protocol.NewControlMessage(serverUUID, msg.Sender, reply)
		if err != nil {
			return nil
		}
		return []protocol.RelayMessage{resp}
	}
}

func (r *Relay) handleSend(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var msg protocol.RelayMessage
	if err := msg.Decode(data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.sent = append(r.sent, msg)
	status, responder := r.sendStatus, r.responder
	r.mu.Unlock()

	if status == http.StatusAccepted && responder != nil {
		r.Enqueue(responder(msg)...)
	}
	w.WriteHeader(status)
}

func (r *Relay) handlePoll(w http.ResponseWriter, req *http.Request) {
	recipient := req.URL.Query().Get("recipient")

	r.mu.Lock()
	delay := r.pollDelay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-req.Context().Done():
			return
		case <-time.After(delay):
		}
	}

	r.mu.Lock()
	r.polls[recipient]++
	if r.pollStatus != 0 && r.pollStatus != http.StatusOK {
		status := r.pollStatus
		r.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	if len(r.pollBodies) > 0 {
		body := r.pollBodies[0]
		r.pollBodies = r.pollBodies[1:]
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
		return
	}
	msgs := r.queues[recipient]
	delete(r.queues, recipient)
	r.mu.Unlock()

	if msgs == nil {
		msgs = []protocol.RelayMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (r *Relay) handleServers(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	body := r.serversBody
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}
