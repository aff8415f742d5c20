package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"nhooyr.io/websocket"
)

const (
	// DefaultURL is the default OpenAI Realtime API URL.
	DefaultURL = "wss://api.openai.com/v1/realtime"
	// DefaultModel is the default realtime model.
	DefaultModel = "gpt-4o-realtime-preview"

	readLimit = 8 << 20
)

var errNotConnected = errors.New("openai: not connected")

// Client handles the WebSocket connection to the Realtime API.
type Client struct {
	url    string
	apiKey string

	mu     sync.Mutex // serializes writes
	conn   *websocket.Conn
	closed bool

	events chan Event
	errc   chan error
	done   chan struct{}
}

// ClientConfig holds configuration for the Realtime Client.
type ClientConfig struct {
	APIKey string
	Model  string
	URL    string
}

// NewClient creates a new Realtime Client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	u := base
	if parsed, err := url.Parse(base); err == nil && parsed.Query().Get("model") == "" {
		q := parsed.Query()
		q.Set("model", model)
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	}

	return &Client{
		url:    u,
		apiKey: cfg.APIKey,
		events: make(chan Event, 100),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + c.apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Send writes a client event.
func (c *Client) Send(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return errNotConnected
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Events returns parsed server events. It is closed when the read loop ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors delivers the error that ended the read loop, if any.
func (c *Client) Errors() <-chan error {
	return c.errc
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errc <- fmt.Errorf("read error: %w", err)
			}
			return
		}

		event, err := ParseEvent(data)
		if err != nil {
			slog.Error("failed to parse realtime event", "error", err)
			continue
		}

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}
