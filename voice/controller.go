package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

// DefaultGracePeriod is the hold time before responding falls back to
// listening once playback drains.
const DefaultGracePeriod = 300 * time.Millisecond

const mailboxSize = 256

// Config holds configuration for a Controller.
type Config struct {
	Live              LiveConfig
	IntroText         string
	IntroVoice        string // Default: Live.Voice
	GracePeriod       time.Duration
	FrameSize         int
	LatencyResolution time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		Live: LiveConfig{
			InputTranscription:  true,
			OutputTranscription: true,
		},
		GracePeriod:       DefaultGracePeriod,
		FrameSize:         audio.FrameSize,
		LatencyResolution: DefaultLatencyResolution,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithObserver registers the UI observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLanguageDetector tags transcript entries when their turn closes.
func WithLanguageDetector(d LanguageDetector) Option {
	return func(c *Controller) { c.detector = d }
}

// Controller owns the lifecycle of one live voice session at a time.
//
// All state transitions happen on the goroutine running Run. Public methods
// post requests to it and return immediately.
type Controller struct {
	cfg      Config
	dialer   Dialer
	synth    Synthesizer
	device   audio.Device
	clock    Clock
	observer Observer
	recorder Recorder
	detector LanguageDetector

	mailbox chan func()
	done    chan struct{}
	running atomic.Bool

	// Mirrors for readers outside the loop.
	state     atomic.Int32
	sources   atomic.Int32
	latencyMs atomic.Int64
	snapshot  atomic.Pointer[[]types.TranscriptEntry]

	// Loop-owned.
	baseCtx      context.Context
	sessCtx      context.Context
	cancel       context.CancelFunc
	gen          uint64
	session      Session
	input        audio.Input
	output       audio.Output
	playback     *Playback
	capture      *Capture
	transcript   *Transcript
	latency      *Latency
	graceTimer   Timer
	graceToken   uint64
	tickTimer    Timer
	tickToken    uint64
	introPending bool
}

// NewController creates a controller. synth may be nil to skip the intro.
func NewController(cfg Config, dialer Dialer, synth Synthesizer, device audio.Device, opts ...Option) *Controller {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.FrameSize
	}
	if cfg.LatencyResolution <= 0 {
		cfg.LatencyResolution = DefaultLatencyResolution
	}
	if cfg.IntroVoice == "" {
		cfg.IntroVoice = cfg.Live.Voice
	}

	c := &Controller{
		cfg:        cfg,
		dialer:     dialer,
		synth:      synth,
		device:     device,
		clock:      SystemClock(),
		observer:   nopObserver{},
		recorder:   nopRecorder{},
		mailbox:    make(chan func(), mailboxSize),
		done:       make(chan struct{}),
		baseCtx:    context.Background(),
		transcript: NewTranscript(),
		latency:    NewLatency(cfg.LatencyResolution),
	}
	for _, opt := range opts {
		opt(c)
	}
	empty := []types.TranscriptEntry{}
	c.snapshot.Store(&empty)
	return c
}

// Run processes requests until ctx is cancelled. The active session, if any,
// is torn down before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("voice: controller already running")
	}
	c.baseCtx = ctx

	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-ctx.Done():
			c.teardown(StateIdle)
			close(c.done)
			c.drain()
			return ctx.Err()
		}
	}
}

// drain runs requests that were queued before shutdown so that stale async
// results release what they carry.
func (c *Controller) drain() {
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		default:
			return
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Toggle starts a session from idle or error and stops it otherwise.
// The decision uses the state visible at call time, so two toggles issued
// before the first is processed start a single session.
func (c *Controller) Toggle() {
	if c.State().CanStart() {
		c.Start()
		return
	}
	c.Stop()
}

// Start begins a new session. It is a no-op while one is active.
func (c *Controller) Start() {
	c.post(c.start)
}

// Stop ends the active session. It is idempotent and safe from any state.
func (c *Controller) Stop() {
	c.post(c.stop)
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Transcript returns the current conversation log.
func (c *Controller) Transcript() []types.TranscriptEntry {
	return *c.snapshot.Load()
}

// Status returns a snapshot for status endpoints.
func (c *Controller) Status() types.VoiceStatus {
	st := c.State()
	return types.VoiceStatus{
		State:          st.String(),
		Label:          st.Label(),
		ActiveSources:  int(c.sources.Load()),
		TranscriptSize: len(c.Transcript()),
		LatencyMs:      c.latencyMs.Load(),
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.mailbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) start() {
	if st := c.State(); !st.CanStart() {
		slog.Debug("voice session already active", "state", st)
		return
	}

	c.gen++
	gen := c.gen
	c.sessCtx, c.cancel = context.WithCancel(c.baseCtx)

	c.transcript.Reset()
	c.publishTranscript()
	c.clearLatency()

	out, err := c.device.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		c.fail("output", fmt.Errorf("open output: %w", err))
		return
	}
	c.output = out
	c.playback = NewPlayback(out)

	c.recorder.SessionStarted()
	c.setState(StateIntro)
	slog.Info("voice session starting", "model", c.cfg.Live.Model)

	c.requestIntro(gen)
}

func (c *Controller) stop() {
	if c.State() == StateIdle {
		return
	}
	slog.Info("voice session stopped")
	c.teardown(StateIdle)
}

func (c *Controller) fail(kind string, err error) {
	slog.Error("voice session failed", "kind", kind, "error", err)
	c.recorder.Error(kind)
	c.teardown(StateError)
}

// teardown releases every session resource and moves to next. Every fatal
// path and explicit stop goes through here.
func (c *Controller) teardown(next State) {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}
	if c.input != nil {
		if err := c.input.Stop(); err != nil {
			slog.Warn("stop microphone", "error", err)
		}
		c.input = nil
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			slog.Warn("close live session", "error", err)
		}
		c.session = nil
	}
	if c.playback != nil {
		c.playback.Interrupt()
		c.playback = nil
	}
	if c.output != nil {
		if err := c.output.Close(); err != nil {
			slog.Warn("close output", "error", err)
		}
		c.output = nil
	}

	c.stopGrace()
	c.clearLatency()
	c.introPending = false
	c.sources.Store(0)

	prev := c.State()
	c.setState(next)
	if prev != StateIdle && prev != StateError {
		c.recorder.SessionEnded(next)
	}
}

func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	slog.Debug("voice state", "from", prev, "to", next)
	c.recorder.StateChanged(prev, next)
	c.observer.StateChanged(next)
}

// ─────────────────────────────────────────────────────────────────────────────
// Intro, dial, microphone
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) requestIntro(gen uint64) {
	if c.synth == nil || c.cfg.IntroText == "" {
		c.connect(gen)
		return
	}

	ctx := c.sessCtx
	req := SpeechRequest{Text: c.cfg.IntroText, Voice: c.cfg.IntroVoice}
	go func() {
		pcm, err := c.synth.Synthesize(ctx, req)
		c.post(func() { c.handleIntro(gen, pcm, err) })
	}()
}

func (c *Controller) handleIntro(gen uint64, pcm []byte, err error) {
	if gen != c.gen {
		return
	}
	if err == nil && len(pcm) == 0 {
		err = ErrNoAudio
	}
	if err != nil {
		slog.Warn("intro synthesis failed, continuing without intro", "error", err)
		c.recorder.Error("intro")
		c.connect(gen)
		return
	}

	buf, err := audio.DecodeAudioData(pcm, audio.OutputSampleRate, audio.Channels)
	if err != nil {
		slog.Warn("intro audio undecodable, continuing without intro", "error", err)
		c.recorder.Error("intro")
		c.connect(gen)
		return
	}

	if _, err := c.playback.Schedule(buf, c.onEnded(gen)); err != nil {
		c.fail("playback", fmt.Errorf("schedule intro: %w", err))
		return
	}
	c.introPending = true
	c.sources.Store(int32(c.playback.Active()))
}

func (c *Controller) connect(gen uint64) {
	ctx := c.sessCtx
	cfg := c.cfg.Live
	go func() {
		sess, err := c.dialer.Dial(ctx, cfg)
		if !c.post(func() { c.handleDialed(gen, sess, err) }) && sess != nil {
			_ = sess.Close()
		}
	}()
}

func (c *Controller) handleDialed(gen uint64, sess Session, err error) {
	if gen != c.gen {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		c.fail("session", fmt.Errorf("dial live session: %w", err))
		return
	}

	c.session = sess
	go c.pump(gen, sess)
	c.acquireMic(gen)
}

// pump forwards session events to the loop.
func (c *Controller) pump(gen uint64, sess Session) {
	for ev := range sess.Events() {
		if !c.post(func() { c.handleRemote(gen, ev) }) {
			return
		}
	}
	c.post(func() { c.handleRemote(gen, CloseEvent{Reason: "event stream ended"}) })
}

func (c *Controller) acquireMic(gen uint64) {
	ctx := c.sessCtx
	go func() {
		in, err := c.device.OpenInput(ctx)
		if !c.post(func() { c.handleMic(gen, in, err) }) && in != nil {
			_ = in.Stop()
		}
	}()
}

func (c *Controller) handleMic(gen uint64, in audio.Input, err error) {
	if gen != c.gen {
		if in != nil {
			_ = in.Stop()
		}
		return
	}
	if err != nil {
		if !errors.Is(err, ErrMicDenied) {
			err = fmt.Errorf("open microphone: %w", err)
		}
		c.fail("microphone", err)
		return
	}

	c.input = in
	c.capture = NewCapture(c.session, c.cfg.FrameSize, c.recorder)
	c.setState(StateListening)

	if err := in.Start(c.capture.Process); err != nil {
		c.fail("microphone", fmt.Errorf("start microphone: %w", err))
		return
	}
	slog.Info("voice session listening")
}

// ─────────────────────────────────────────────────────────────────────────────
// Remote events
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) handleRemote(gen uint64, ev Event) {
	if gen != c.gen {
		return
	}

	switch e := ev.(type) {
	case OpenEvent:
		slog.Info("live session opened")
	case MessageEvent:
		c.handleMessage(gen, e)
	case ErrorEvent:
		c.fail("session", e)
	case CloseEvent:
		if c.State() == StateIdle {
			return
		}
		slog.Info("live session closed by remote", "reason", e.Reason)
		c.teardown(StateIdle)
	default:
		slog.Debug("ignoring session event", "type", ev.eventType())
	}
}

// handleMessage applies one server message: transcripts, then audio, then
// interruption, then turn completion.
func (c *Controller) handleMessage(gen uint64, m MessageEvent) {
	changed := false
	if m.InputTranscription != "" {
		if c.latency.Running() {
			// The user is still talking; measure from the latest turn end.
			c.latency.Start(c.clock.Now())
			c.publishLatency()
		}
		c.transcript.Add(types.SourceUser, m.InputTranscription)
		changed = true
	}
	if m.OutputTranscription != "" {
		c.transcript.Add(types.SourceModel, m.OutputTranscription)
		changed = true
	}
	if changed {
		c.publishTranscript()
	}

	if len(m.Audio) > 0 && !c.handleAudio(gen, m.Audio) {
		return
	}
	if m.Interrupted {
		c.handleInterrupt()
	}
	if m.TurnComplete {
		c.handleTurnComplete(gen)
	}
}

func (c *Controller) handleAudio(gen uint64, pcm []byte) bool {
	if c.latency.Running() {
		d := c.latency.Stop(c.clock.Now())
		c.recorder.ResponseLatency(d)
		c.stopTick()
		c.publishLatency()
	}

	buf, err := audio.DecodeAudioData(pcm, audio.OutputSampleRate, audio.Channels)
	if err != nil {
		c.fail("decode", fmt.Errorf("decode model audio: %w", err))
		return false
	}
	sch, err := c.playback.Schedule(buf, c.onEnded(gen))
	if err != nil {
		c.fail("playback", err)
		return false
	}

	c.recorder.ChunkScheduled(sch.Duration)
	c.sources.Store(int32(c.playback.Active()))
	c.stopGrace()
	if c.State() == StateListening {
		c.setState(StateResponding)
	}
	return true
}

func (c *Controller) handleInterrupt() {
	n := c.playback.Interrupt()
	c.sources.Store(0)
	c.stopGrace()
	slog.Debug("playback interrupted", "stopped", n)
	if c.State() == StateResponding {
		c.setState(StateListening)
	}
}

func (c *Controller) handleTurnComplete(gen uint64) {
	turn := c.transcript.CompleteTurn()
	if c.tagLanguages(turn) {
		c.publishTranscript()
	}
	if strings.TrimSpace(turn.UserText) == "" {
		return
	}
	c.latency.Start(c.clock.Now())
	c.publishLatency()
	c.scheduleTick(gen)
}

func (c *Controller) tagLanguages(turn TurnResult) bool {
	if c.detector == nil {
		return false
	}
	tagged := false
	for i := turn.Start; i < turn.End; i++ {
		if code, ok := c.detector.DetectLanguage(c.transcript.Entry(i).Text); ok {
			c.transcript.SetLang(i, code)
			tagged = true
		}
	}
	return tagged
}

// ─────────────────────────────────────────────────────────────────────────────
// Playback completion and timers
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) onEnded(gen uint64) func(id uint64) {
	return func(id uint64) {
		c.post(func() { c.handleEnded(gen, id) })
	}
}

func (c *Controller) handleEnded(gen uint64, id uint64) {
	if gen != c.gen || c.playback == nil {
		return
	}
	remaining := c.playback.Release(id)
	c.sources.Store(int32(remaining))
	if remaining > 0 {
		return
	}

	switch {
	case c.introPending && c.State() == StateIntro:
		c.introPending = false
		c.connect(gen)
	case c.State() == StateResponding:
		c.armGrace(gen)
	}
}

func (c *Controller) armGrace(gen uint64) {
	c.stopGrace()
	token := c.graceToken
	c.graceTimer = c.clock.AfterFunc(c.cfg.GracePeriod, func() {
		c.post(func() { c.handleGrace(gen, token) })
	})
}

func (c *Controller) handleGrace(gen, token uint64) {
	if gen != c.gen || token != c.graceToken {
		return
	}
	c.graceTimer = nil
	if c.State() == StateResponding && c.playback.Active() == 0 {
		c.setState(StateListening)
	}
}

func (c *Controller) stopGrace() {
	c.graceToken++
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Controller) scheduleTick(gen uint64) {
	c.stopTick()
	c.armTick(gen, c.tickToken)
}

func (c *Controller) armTick(gen, token uint64) {
	c.tickTimer = c.clock.AfterFunc(c.latency.Resolution(), func() {
		c.post(func() { c.handleTick(gen, token) })
	})
}

func (c *Controller) handleTick(gen, token uint64) {
	if gen != c.gen || token != c.tickToken || !c.latency.Running() {
		return
	}
	c.publishLatency()
	c.armTick(gen, token)
}

func (c *Controller) stopTick() {
	c.tickToken++
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
}

func (c *Controller) clearLatency() {
	c.latency.Stop(c.clock.Now())
	c.stopTick()
	c.publishLatency()
}

// ─────────────────────────────────────────────────────────────────────────────
// Observer fan-out
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) publishTranscript() {
	entries := c.transcript.Entries()
	c.snapshot.Store(&entries)
	c.observer.TranscriptChanged(entries)
}

func (c *Controller) publishLatency() {
	elapsed := c.latency.Sample(c.clock.Now())
	c.latencyMs.Store(elapsed.Milliseconds())
	c.observer.LatencyChanged(elapsed, c.latency.Running())
}
