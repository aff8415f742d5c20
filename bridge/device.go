package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

var _ audio.Device = (*Conn)(nil)

// OpenInput asks the widget for the microphone and waits for its answer.
func (c *Conn) OpenInput(ctx context.Context) (audio.Input, error) {
	// Drop a stale answer from an earlier request.
	select {
	case <-c.micReply:
	default:
	}

	if err := c.enqueue(bareMessage{Type: TypeMicRequest}); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if c.cfg.MicTimeout > 0 {
		t := time.NewTimer(c.cfg.MicTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case granted := <-c.micReply:
		if !granted {
			return nil, voice.ErrMicDenied
		}
	case <-timeout:
		return nil, fmt.Errorf("%w: no answer from widget", voice.ErrMicDenied)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
	return &input{conn: c}, nil
}

// OpenOutput tells the widget to create an output at sampleRate.
func (c *Conn) OpenOutput(sampleRate int) (audio.Output, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", audio.ErrInvalidFormat, sampleRate)
	}
	out := &output{
		conn:    c,
		rate:    sampleRate,
		opened:  time.Now(),
		pending: make(map[uint64]func()),
	}
	c.mu.Lock()
	c.output = out
	c.mu.Unlock()

	if err := c.enqueue(outputOpenMessage{Type: TypeOutputOpen, Rate: sampleRate}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Conn) currentOutput() *output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// deliver hands captured samples to the running input, if any.
func (c *Conn) deliver(samples []float32) {
	c.mu.Lock()
	in := c.input
	c.mu.Unlock()
	if in != nil {
		in.process(samples)
	}
}

type input struct {
	conn *Conn

	mu      sync.Mutex
	fn      audio.ProcessFunc
	monitor []float32
}

func (in *input) Start(fn audio.ProcessFunc) error {
	in.mu.Lock()
	in.fn = fn
	in.mu.Unlock()

	in.conn.mu.Lock()
	in.conn.input = in
	in.conn.mu.Unlock()
	return nil
}

func (in *input) Stop() error {
	in.conn.mu.Lock()
	if in.conn.input == in {
		in.conn.input = nil
	}
	in.conn.mu.Unlock()
	return nil
}

func (in *input) process(samples []float32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fn == nil {
		return
	}
	if len(in.monitor) != len(samples) {
		in.monitor = make([]float32, len(samples))
	}
	in.fn(samples, in.monitor)
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// output schedules buffers on the widget. Its clock follows the widget's
// clock reports and runs on wall time between them.
type output struct {
	conn   *Conn
	rate   int
	opened time.Time

	mu      sync.Mutex
	clock   time.Duration
	clockAt time.Time
	aligned bool
	nextID  uint64
	pending map[uint64]func()
	closed  bool
}

func (o *output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.aligned {
		return time.Since(o.opened)
	}
	return o.clock + time.Since(o.clockAt)
}

func (o *output) align(ms float64) {
	o.mu.Lock()
	o.clock = time.Duration(ms * float64(time.Millisecond))
	o.clockAt = time.Now()
	o.aligned = true
	o.mu.Unlock()
}

func (o *output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.nextID++
	id := o.nextID
	if onEnded != nil {
		o.pending[id] = onEnded
	}
	o.mu.Unlock()

	samples := audio.Resample(buf.Mono(), buf.SampleRate, o.rate)
	err := o.conn.enqueue(playMessage{
		Type: TypePlay,
		ID:   id,
		AtMs: float64(at) / float64(time.Millisecond),
		Data: audio.Encode(audio.FloatToPCM16(samples)),
		Rate: o.rate,
	})
	if err != nil {
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
		return nil, err
	}
	return &source{out: o, id: id}, nil
}

// ended runs the callback for id once.
func (o *output) ended(id uint64) {
	o.mu.Lock()
	fn := o.pending[id]
	delete(o.pending, id)
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Pending returns the number of sources awaiting an ended report.
func (o *output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	clear(o.pending)
	o.mu.Unlock()

	o.conn.mu.Lock()
	if o.conn.output == o {
		o.conn.output = nil
	}
	o.conn.mu.Unlock()

	if err := o.conn.enqueue(bareMessage{Type: TypeOutputClose}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

type source struct {
	out *output
	id  uint64
}

// Stop asks the widget to stop the source. The widget reports ended.
func (s *source) Stop() {
	_ = s.out.conn.enqueue(sourceMessage{Type: TypeStopSource, ID: s.id})
}
