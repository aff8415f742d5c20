package voice

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joan6141318-ai/Moon-sub000/audio"
)

// Capture frames microphone audio and forwards it to a session.
//
// Process runs on the device goroutine. Frames are sent in capture order
// without waiting for acknowledgement; nothing is sent once Close returns.
type Capture struct {
	session  Session
	recorder Recorder

	open atomic.Bool

	mu     sync.Mutex // serializes Process with Close
	framer *audio.Framer
	sent   uint64
}

// NewCapture creates a capture pipeline sending frameSize-sample chunks.
func NewCapture(session Session, frameSize int, recorder Recorder) *Capture {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	c := &Capture{
		session:  session,
		recorder: recorder,
		framer:   audio.NewFramer(frameSize),
	}
	c.open.Store(true)
	return c
}

// Process is the audio.ProcessFunc for the microphone input.
func (c *Capture) Process(in, out []float32) {
	// Mute the monitor path to avoid feedback.
	clear(out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open.Load() {
		return
	}
	c.framer.Write(in, c.send)
}

func (c *Capture) send(frame []float32) {
	if err := c.session.Send(audio.NewChunk(frame)); err != nil {
		slog.Debug("send audio chunk", "error", err)
		return
	}
	c.sent++
	c.recorder.ChunkSent()
}

// Close stops forwarding. Buffered partial frames are dropped.
func (c *Capture) Close() {
	c.open.Store(false)
	c.mu.Lock()
	c.framer.Reset()
	c.mu.Unlock()
}

// Sent returns the number of chunks handed to the session.
func (c *Capture) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}
