// Package discovery fetches the list of available chat servers.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/omochice/chatroom-client/pkg/protocol"
)

const serversPath = "/get_servers.php"

// Client queries a discovery endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// New creates a discovery Client. A trailing slash on baseURL is ignored.
func New(baseURL string, httpClient *http.Client, timeout time.Duration, log *slog.Logger) *Client {
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
		log:     log.With("component", "discovery"),
	}
}

// Fetch retrieves and validates the server list.
// Invalid entries are logged and skipped.
func (c *Client) Fetch(ctx context.Context) ([]protocol.ServerDescriptor, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+serversPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrTransportIO, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", chat.ErrProtocol, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", chat.ErrTransportIO, err)
	}

	if strings.TrimSpace(string(body)) == "" {
		c.log.Debug("Discovery returned an empty body")
		return nil, nil
	}

	servers, skipped, err := protocol.ParseServerList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrParse, err)
	}
	for _, s := range skipped {
		c.log.Warn("Skipping server entry", "index", s.Index, "reason", s.Reason)
	}

	return servers, nil
}
