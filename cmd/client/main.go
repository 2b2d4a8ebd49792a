package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/internal/client"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

func main() {
	discoveryURL := flag.String("discovery", "http://localhost:8080/discovery", "Discovery service base URL")
	relayURL := flag.String("relay", "http://localhost:8080/relay", "Relay service base URL")
	nickname := flag.String("nickname", "", "Nickname for chat")
	server := flag.String("server", "", "Server to join once the list arrives (uuid, name or list index)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := client.DefaultConfig()
	cfg.DiscoveryURL = *discoveryURL
	cfg.RelayURL = *relayURL
	cfg.Logger = log

	c, err := client.New(cfg)
	if err != nil {
		log.Error("Failed to create client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := &terminal{client: c, nickname: *nickname, autoJoin: *server}
	sub := c.Hub().Subscribe(256)
	go t.render(sub)

	c.FetchServers()

	fmt.Println("Commands: /servers, /connect <n|uuid|name>, /nick <name>, /disconnect, /quit")
	lines := make(chan string)
	go readLines(lines)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !t.handle(line) {
				break loop
			}
		}
	}

	if err := c.Shutdown(); err != nil {
		log.Warn("Shutdown did not complete cleanly", "error", err)
	}
	c.Hub().Unregister(sub)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

// terminal is the line-oriented presentation of a client.
type terminal struct {
	client *client.Client

	mu       sync.Mutex
	nickname string
	autoJoin string
	servers  []protocol.ServerDescriptor
}

// render prints hub events until the subscription is closed.
func (t *terminal) render(sub *chat.Subscriber) {
	for ev := range sub.Events {
		switch ev.Kind {
		case chat.EventMessage:
			fmt.Println(ev.Text)
		case chat.EventStatus:
			fmt.Printf("-- %s\n", ev.Text)
		case chat.EventServers:
			t.showServers(ev.Servers)
		case chat.EventState:
			if ev.State.Connected {
				fmt.Printf("-- [%s] %s as %s\n", ev.State.Mode, ev.State.Server, ev.State.Nickname)
			}
		}
	}
}

func (t *terminal) showServers(servers []protocol.ServerDescriptor) {
	t.mu.Lock()
	t.servers = servers
	join := t.autoJoin
	t.autoJoin = ""
	t.mu.Unlock()

	for i, s := range servers {
		fmt.Printf("  %d) %s\n", i+1, s)
	}
	if join != "" {
		t.connect(join)
	}
}

// handle processes one input line. It returns false when the user quits.
func (t *terminal) handle(line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return true
	}

	if !strings.HasPrefix(text, "/") {
		if err := t.client.Send(line); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
		}
		return true
	}

	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/servers":
		t.client.FetchServers()
	case "/connect":
		t.connect(arg)
	case "/nick":
		t.mu.Lock()
		t.nickname = arg
		t.mu.Unlock()
	case "/disconnect":
		t.client.Disconnect()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
	}
	return true
}

func (t *terminal) connect(selector string) {
	t.mu.Lock()
	nickname := t.nickname
	server := selectServer(t.servers, selector)
	t.mu.Unlock()

	if server == nil && selector != "" {
		fmt.Printf("No server matches %q\n", selector)
	}
	// Connect reports invalid input through the hub.
	_ = t.client.Connect(server, nickname)
}

// selectServer finds a server by 1-based index, uuid or name.
func selectServer(servers []protocol.ServerDescriptor, selector string) *protocol.ServerDescriptor {
	if selector == "" {
		return nil
	}
	if n, err := strconv.Atoi(selector); err == nil && n >= 1 && n <= len(servers) {
		s := servers[n-1]
		return &s
	}
	for _, s := range servers {
		if s.UUID == selector || strings.EqualFold(s.Name, selector) {
			return &s
		}
	}
	return nil
}
