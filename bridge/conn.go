// Package bridge connects a browser widget to a voice session over a
// websocket. A Conn is both the session's audio device and its observer:
// microphone blocks arrive from the widget and model audio is scheduled on
// the widget's output clock.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("bridge: connection closed")

// Config holds connection tuning.
type Config struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	MicTimeout   time.Duration
	SendQueue    int
	ICEServers   []string
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 25 * time.Second,
		MicTimeout:   30 * time.Second,
		SendQueue:    256,
		ICEServers:   []string{"stun:stun.l.google.com:19302"},
	}
}

// Control is the session surface driven by the widget buttons.
type Control interface {
	Toggle()
	Start()
	Stop()
}

// NewUpgrader returns a websocket upgrader accepting the given origins.
// An empty list or "*" accepts any origin.
func NewUpgrader(allowedOrigins []string, handshakeTimeout time.Duration) *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// Conn is one widget connection.
type Conn struct {
	ID string

	ws  *websocket.Conn
	cfg Config

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	micReply chan bool

	mu      sync.Mutex
	control Control
	input   *input
	output  *output
	peer    *webrtc.PeerConnection
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, cfg Config) *Conn {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultConfig().SendQueue
	}
	return &Conn{
		ID:       uuid.NewString(),
		ws:       ws,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendQueue),
		closed:   make(chan struct{}),
		micReply: make(chan bool, 1),
	}
}

// Bind attaches the session driven by toggle, start and stop messages.
func (c *Conn) Bind(ctrl Control) {
	c.mu.Lock()
	c.control = ctrl
	c.mu.Unlock()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close sends a normal closure and releases the socket and any peer
// connection. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closePeer()
		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// ReadLoop dispatches widget messages until the socket closes or ctx is done.
// A normal closure returns nil.
func (c *Conn) ReadLoop(ctx context.Context) error {
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if c.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(c.cfg.ReadLimit)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		c.extendReadDeadline()

		msg, err := ParseMessage(data)
		if err != nil {
			slog.Warn("bad widget message", "conn", c.ID, "error", err)
			c.sendError(err.Error())
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// WriteLoop owns all writes to the socket. It sends queued messages and
// periodic pings until the connection closes.
func (c *Conn) WriteLoop(ctx context.Context) error {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultConfig().PingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case <-c.closed:
			return nil
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return fmt.Errorf("write message: %w", err)
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.Close()
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (c *Conn) dispatch(msg Message) {
	switch m := msg.(type) {
	case ToggleMessage, StartMessage, StopMessage:
		c.mu.Lock()
		ctrl := c.control
		c.mu.Unlock()
		if ctrl == nil {
			c.sendError("session not ready")
			return
		}
		switch m.(type) {
		case ToggleMessage:
			ctrl.Toggle()
		case StartMessage:
			ctrl.Start()
		case StopMessage:
			ctrl.Stop()
		}

	case MicMessage:
		select {
		case c.micReply <- m.Granted:
		default:
		}

	case AudioMessage:
		pcm, err := audio.Decode(m.Data)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		samples, err := audio.PCM16ToFloat(pcm)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.deliver(samples)

	case EndedMessage:
		if out := c.currentOutput(); out != nil {
			out.ended(m.ID)
		}

	case ClockMessage:
		if out := c.currentOutput(); out != nil {
			out.align(m.Ms)
		}

	case RTCOfferMessage:
		go c.handleOffer(m.SDP)
	}
}

// enqueue marshals v and queues it for the writer. It blocks while the
// queue is full.
func (c *Conn) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// offer queues v unless the queue is full.
func (c *Conn) offer(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Debug("send queue full, dropping message", "conn", c.ID)
	}
}

func (c *Conn) sendError(msg string) {
	c.offer(errorMessage{Type: TypeError, Message: msg})
}

// ─────────────────────────────────────────────────────────────────────────────
// voice.Observer
// ─────────────────────────────────────────────────────────────────────────────

var _ voice.Observer = (*Conn)(nil)

func (c *Conn) StateChanged(state voice.State) {
	_ = c.enqueue(stateMessage{Type: TypeState, State: state.String(), Label: state.Label()})
}

func (c *Conn) TranscriptChanged(entries []types.TranscriptEntry) {
	c.offer(transcriptMessage{Type: TypeTranscript, Entries: entries})
}

func (c *Conn) LatencyChanged(elapsed time.Duration, running bool) {
	c.offer(latencyMessage{Type: TypeLatency, Ms: elapsed.Milliseconds(), Running: running})
}
