package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Clock
// ─────────────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and fires due timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Device
// ─────────────────────────────────────────────────────────────────────────────

type fakePlay struct {
	buf     *audio.Buffer
	at      time.Duration
	onEnded func()
	stopped bool
	ended   bool
}

type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	plays  []*fakePlay
	closed bool
	err    error
}

type fakeSource struct {
	out  *fakeOutput
	play *fakePlay
}

func (s fakeSource) Stop() {
	s.out.mu.Lock()
	s.play.stopped = true
	fire := !s.play.ended
	s.play.ended = true
	s.out.mu.Unlock()
	if fire {
		s.play.onEnded()
	}
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) SetNow(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

func (o *fakeOutput) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	p := &fakePlay{buf: buf, at: at, onEnded: onEnded}
	o.plays = append(o.plays, p)
	return fakeSource{out: o, play: p}, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Finish ends play i naturally.
func (o *fakeOutput) Finish(i int) {
	o.mu.Lock()
	p := o.plays[i]
	fire := !p.ended
	p.ended = true
	o.mu.Unlock()
	if fire {
		p.onEnded()
	}
}

func (o *fakeOutput) Plays() []fakePlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]fakePlay, len(o.plays))
	for i, p := range o.plays {
		out[i] = *p
	}
	return out
}

func (o *fakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeInput struct {
	mu      sync.Mutex
	fn      audio.ProcessFunc
	stopped bool
}

func (i *fakeInput) Start(fn audio.ProcessFunc) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fn = fn
	return nil
}

func (i *fakeInput) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	return nil
}

// Feed delivers samples with a non-zero monitor buffer and returns it.
func (i *fakeInput) Feed(samples []float32) []float32 {
	i.mu.Lock()
	fn := i.fn
	i.mu.Unlock()
	out := make([]float32, len(samples))
	for j := range out {
		out[j] = 0.5
	}
	if fn != nil {
		fn(samples, out)
	}
	return out
}

func (i *fakeInput) Stopped() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stopped
}

type fakeDevice struct {
	mu       sync.Mutex
	inputs   []*fakeInput
	outputs  []*fakeOutput
	inputErr error
	gate     chan struct{} // when set, OpenInput waits on it
}

func (d *fakeDevice) OpenInput(ctx context.Context) (audio.Input, error) {
	d.mu.Lock()
	gate := d.gate
	err := d.inputErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	in := &fakeInput{}
	d.mu.Lock()
	d.inputs = append(d.inputs, in)
	d.mu.Unlock()
	return in, nil
}

func (d *fakeDevice) OpenOutput(int) (audio.Output, error) {
	out := &fakeOutput{}
	d.mu.Lock()
	d.outputs = append(d.outputs, out)
	d.mu.Unlock()
	return out, nil
}

func (d *fakeDevice) Input(i int) *fakeInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.inputs) {
		return nil
	}
	return d.inputs[i]
}

func (d *fakeDevice) Output(i int) *fakeOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.outputs) {
		return nil
	}
	return d.outputs[i]
}

// ─────────────────────────────────────────────────────────────────────────────
// Remote session
// ─────────────────────────────────────────────────────────────────────────────

type fakeSession struct {
	mu     sync.Mutex
	sent   []audio.Chunk
	events chan Event
	closed bool
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 64)}
}

func (s *fakeSession) Send(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)
	})
	return nil
}

func (s *fakeSession) Emit(ev Event) {
	s.events <- ev
}

func (s *fakeSession) Sent() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.sent...)
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	configs  []LiveConfig
	err      error
	gate     chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, cfg LiveConfig) (Session, error) {
	d.mu.Lock()
	d.configs = append(d.configs, cfg)
	gate := d.gate
	err := d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	s := newFakeSession()
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func (d *fakeDialer) Session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

// ─────────────────────────────────────────────────────────────────────────────
// Observer
// ─────────────────────────────────────────────────────────────────────────────

type latencySample struct {
	elapsed time.Duration
	running bool
}

type fakeObserver struct {
	mu         sync.Mutex
	states     []State
	transcript []types.TranscriptEntry
	latency    []latencySample
}

func (o *fakeObserver) StateChanged(s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *fakeObserver) TranscriptChanged(entries []types.TranscriptEntry) {
	o.mu.Lock()
	o.transcript = entries
	o.mu.Unlock()
}

func (o *fakeObserver) LatencyChanged(d time.Duration, running bool) {
	o.mu.Lock()
	o.latency = append(o.latency, latencySample{d, running})
	o.mu.Unlock()
}

func (o *fakeObserver) States() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *fakeObserver) LastLatency() latencySample {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latency) == 0 {
		return latencySample{}
	}
	return o.latency[len(o.latency)-1]
}

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	c        *Controller
	clock    *fakeClock
	device   *fakeDevice
	dialer   *fakeDialer
	observer *fakeObserver
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, cfg Config, synth Synthesizer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		device:   &fakeDevice{},
		dialer:   &fakeDialer{},
		observer: &fakeObserver{},
	}
	opts = append([]Option{WithClock(h.clock), WithObserver(h.observer)}, opts...)
	h.c = NewController(cfg, h.dialer, synth, h.device, opts...)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.c.Done()
	})
}

// sync waits until every request posted so far has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	if !h.c.post(func() { close(done) }) {
		t.Fatal("controller stopped")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for controller loop")
	}
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.sync(t)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s (state %s)", what, h.c.State())
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	h.waitFor(t, "state "+want.String(), func() bool { return h.c.State() == want })
}

// listen starts a session and waits until capture is attached.
func (h *harness) listen(t *testing.T) (*fakeSession, *fakeInput, *fakeOutput) {
	t.Helper()
	h.c.Toggle()
	h.waitState(t, StateListening)
	return h.dialer.Session(0), h.device.Input(0), h.device.Output(0)
}

func pcm(d time.Duration) []byte {
	n := int(d * audio.OutputSampleRate / time.Second)
	return make([]byte, n*2)
}

var errBoom = errors.New("boom")
