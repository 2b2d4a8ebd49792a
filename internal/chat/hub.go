package chat

import (
	"log/slog"
	"sync"

	"github.com/omochice/chatroom-client/pkg/protocol"
)

// Sink receives the user-visible output of transports.
type Sink interface {
	// Status replaces the one-line connection status.
	Status(text string)

	// Message appends a line to the message log.
	Message(text string)
}

// EventKind identifies what changed in an Event.
type EventKind int

const (
	EventStatus EventKind = iota
	EventMessage
	EventState
	EventServers
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "STATUS"
	case EventMessage:
		return "MESSAGE"
	case EventState:
		return "STATE"
	case EventServers:
		return "SERVERS"
	default:
		return "UNKNOWN"
	}
}

// Event is a single observable change.
// Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Text    string
	State   State
	Servers []protocol.ServerDescriptor
}

// Subscriber receives events in publication order.
type Subscriber struct {
	Events chan Event
}

// Hub holds the observable client state and fans every change out to subscribers.
// The presentation layer subscribes and handles its own thread affinity.
type Hub struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	status      string
	messages    []string
	state       State
	servers     []protocol.ServerDescriptor
}

// NewHub creates a new Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log,
		subscribers: make(map[*Subscriber]bool),
		status:      "Disconnected",
	}
}

// Subscribe registers a subscriber with the given channel buffer.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	sub := &Subscriber{Events: make(chan Event, buffer)}
	h.Register(sub)
	return sub
}

// Register adds a subscriber to the hub.
func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = true
}

// Unregister removes a subscriber and closes its channel.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub] {
		delete(h.subscribers, sub)
		close(sub.Events)
	}
}

// SubscriberCount returns number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Status implements Sink.
func (h *Hub) Status(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = text
	h.broadcast(Event{Kind: EventStatus, Text: text})
}

// Message implements Sink.
func (h *Hub) Message(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, text)
	h.broadcast(Event{Kind: EventMessage, Text: text})
}

// SetState publishes a new connection state.
func (h *Hub) SetState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	h.broadcast(Event{Kind: EventState, State: s})
}

// SetServers replaces the server list wholesale.
func (h *Hub) SetServers(servers []protocol.ServerDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.servers = append([]protocol.ServerDescriptor(nil), servers...)
	h.broadcast(Event{Kind: EventServers, Servers: h.copyServers()})
}

// CurrentStatus returns the latest status line.
func (h *Hub) CurrentStatus() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Messages returns a copy of the message log.
func (h *Hub) Messages() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.messages...)
}

// CurrentState returns the last published state.
func (h *Hub) CurrentState() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Servers returns a copy of the current server list.
func (h *Hub) Servers() []protocol.ServerDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.copyServers()
}

// copyServers copies the server list; callers hold h.mu.
func (h *Hub) copyServers() []protocol.ServerDescriptor {
	return append([]protocol.ServerDescriptor(nil), h.servers...)
}

// broadcast must be called with h.mu held for writing so that every
// subscriber observes events in the same order as the snapshots.
func (h *Hub) broadcast(ev Event) {
	for sub := range h.subscribers {
		select {
		case sub.Events <- ev:
		default:
			h.log.Warn("Dropping event for slow subscriber", "kind", ev.Kind)
		}
	}
}
