// Package relay implements the HTTP relay transport: a session emulated by
// posting messages to and polling messages from a relay service.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

const (
	sendPath = "/send_message.php"
	pollPath = "/get_messages.php"
)

// Client talks to the relay service. It holds no session state and
// may be shared between transports.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewClient creates a relay Client. A trailing slash on baseURL is ignored.
// timeout bounds each request; zero leaves requests bounded only by ctx.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		log:     log.With("component", "relay-client"),
	}
}

// Send posts msg to the relay. Only 202 Accepted counts as delivered.
func (c *Client) Send(ctx context.Context, msg protocol.RelayMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrParse, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", chat.ErrTransportIO, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrTransportIO, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		c.log.Warn("Relay rejected message", "status", res.StatusCode, "body", string(body))
		return fmt.Errorf("%w: invalid status code: %d", chat.ErrProtocol, res.StatusCode)
	}
	return nil
}

// Poll fetches pending messages for recipient.
// An empty response yields no messages and no error.
func (c *Client) Poll(ctx context.Context, recipient string) ([]protocol.RelayMessage, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := c.baseURL + pollPath + "?recipient=" + url.QueryEscape(recipient)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", chat.ErrTransportIO, err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrTransportIO, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: invalid status code: %d", chat.ErrProtocol, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", chat.ErrTransportIO, err)
	}

	msgs, err := protocol.DecodeMessages(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrParse, err)
	}
	return msgs, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
