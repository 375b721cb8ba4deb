package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BalanceEvent is one balance observation streamed by the server.
type BalanceEvent struct {
	Address     string    `json:"address"`
	Lamports    uint64    `json:"lamports"`
	SOL         string    `json:"sol"`
	Slot        *uint64   `json:"slot,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// StatusEvent is one connection-status transition streamed by the server.
type StatusEvent struct {
	Address     string    `json:"address"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SessionStatus is the server's snapshot of its streaming session.
type SessionStatus struct {
	Address   string    `json:"address,omitempty"`
	Phase     string    `json:"phase"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one SSE frame from the balance stream: exactly one of Balance
// and Status is non-nil.
type Event struct {
	Balance *BalanceEvent
	Status  *StatusEvent
}

// Client is the HTTP client for the solstream service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new solstream service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// No client timeout: the stream endpoint is long-lived.
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Status fetches the server's current session status.
func (c *Client) Status(ctx context.Context) (*SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &status, nil
}

// Stream opens the server's SSE endpoint for an address and delivers
// events on the returned channel in arrival order. The channel closes
// when ctx is cancelled or the server ends the stream.
func (c *Client) Stream(ctx context.Context, address string) (<-chan Event, error) {
	u := fmt.Sprintf("%s/api/v1/stream/balances/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseErrorResponse(resp)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.readEvents(ctx, resp.Body, address, events)
	}()

	return events, nil
}

// readEvents parses the SSE wire format: "event:" and "data:" lines
// separated by blank lines. Keepalive comments and unknown event types
// are skipped.
func (c *Client) readEvents(ctx context.Context, body io.Reader, address string, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event, ok := c.decodeEvent(eventType, data); ok {
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
			eventType, data = "", ""
		}
		// Lines starting with ":" are keepalive comments; ignored.
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Debug("stream read ended", "address", address, "error", err)
	}
}

// decodeEvent turns one SSE frame into an Event.
func (c *Client) decodeEvent(eventType, data string) (Event, bool) {
	if data == "" {
		return Event{}, false
	}

	switch eventType {
	case "balance":
		var balance BalanceEvent
		if err := json.Unmarshal([]byte(data), &balance); err != nil {
			c.logger.Warn("failed to decode balance event", "error", err)
			return Event{}, false
		}
		return Event{Balance: &balance}, true

	case "status":
		var status StatusEvent
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			c.logger.Warn("failed to decode status event", "error", err)
			return Event{}, false
		}
		return Event{Status: &status}, true

	default:
		// "connected" handshake frames and future event types
		return Event{}, false
	}
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
