// Package wavdevice implements audio.Device over WAV files: a recording is
// replayed as the microphone and scheduled playback is rendered to a file.
package wavdevice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/audiocapture"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// ErrClosed is returned when playing on a closed output.
var ErrClosed = errors.New("wavdevice: output closed")

// Device provides file-backed microphone and speaker access.
type Device struct {
	input   *audiocapture.File
	outPath string

	mu   sync.Mutex
	last *Output
}

// New creates a device. A nil input behaves like a denied microphone and an
// empty outPath keeps rendered audio in memory only.
func New(input *audiocapture.File, outPath string) *Device {
	return &Device{input: input, outPath: outPath}
}

// OpenInput returns the recording as a microphone stream.
func (d *Device) OpenInput(ctx context.Context) (audio.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.input == nil {
		return nil, voice.ErrMicDenied
	}
	return &input{file: d.input}, nil
}

// OpenOutput creates a rendering output running at sampleRate.
func (d *Device) OpenOutput(sampleRate int) (audio.Output, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", audio.ErrInvalidFormat, sampleRate)
	}
	out := newOutput(sampleRate, d.outPath)
	d.mu.Lock()
	d.last = out
	d.mu.Unlock()
	return out, nil
}

// LastOutput returns the most recently opened output, or nil.
func (d *Device) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type input struct {
	file    *audiocapture.File
	monitor []float32
}

func (in *input) Start(fn audio.ProcessFunc) error {
	return in.file.Start(func(samples []float32) {
		if len(in.monitor) != len(samples) {
			in.monitor = make([]float32, len(samples))
		}
		fn(samples, in.monitor)
	})
}

func (in *input) Stop() error {
	return in.file.Stop()
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// Output mixes scheduled buffers onto a timeline. Its clock is wall time
// since the output was opened and ended callbacks fire on real timers.
type Output struct {
	rate    int
	path    string
	started time.Time

	mu     sync.Mutex
	placed []*source
	closed bool
}

func newOutput(rate int, path string) *Output {
	return &Output{rate: rate, path: path, started: time.Now()}
}

// Now returns the time elapsed since the output was opened.
func (o *Output) Now() time.Duration {
	return time.Since(o.started)
}

// Play places buf on the timeline at the given output time.
func (o *Output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}

	src := &source{
		out:     o,
		at:      at,
		samples: audio.Resample(buf.Mono(), buf.SampleRate, o.rate),
		stopAt:  -1,
		onEnded: onEnded,
	}
	delay := max(at+buf.Duration()-o.Now(), 0)
	src.timer = time.AfterFunc(delay, src.end)
	o.placed = append(o.placed, src)
	return src, nil
}

// Render mixes every placed buffer into one mono track. Stopped sources are
// cut at the time they were stopped.
func (o *Output) Render() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.render()
}

func (o *Output) render() []float32 {
	var total int
	for _, s := range o.placed {
		total = max(total, s.offset()+s.length())
	}

	mix := make([]float32, total)
	for _, s := range o.placed {
		off := s.offset()
		for i, v := range s.samples[:s.length()] {
			mix[off+i] += v
		}
	}
	for i, v := range mix {
		mix[i] = min(max(v, -1), 1)
	}
	return mix
}

// Close stops pending callbacks and writes the rendered track when the
// output has a path. It is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, s := range o.placed {
		s.timer.Stop()
	}
	mix := o.render()
	o.mu.Unlock()

	if o.path == "" {
		return nil
	}
	data, err := audio.EncodeWAV(mix, o.rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.path, data, 0o644); err != nil {
		return fmt.Errorf("write output wav: %w", err)
	}
	slog.Info("rendered output", "path", o.path, "duration", audio.DurationOf(len(mix), o.rate))
	return nil
}

type source struct {
	out     *Output
	at      time.Duration
	samples []float32
	stopAt  time.Duration // relative to at, -1 while playing
	timer   *time.Timer
	once    sync.Once
	onEnded func()
}

func (s *source) offset() int {
	return samplesIn(s.at, s.out.rate)
}

func (s *source) length() int {
	if s.stopAt < 0 {
		return len(s.samples)
	}
	return min(len(s.samples), samplesIn(s.stopAt, s.out.rate))
}

func samplesIn(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}

func (s *source) end() {
	s.once.Do(func() {
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}

// Stop cuts the source at the current output time. The ended callback fires
// asynchronously if it has not fired yet.
func (s *source) Stop() {
	s.out.mu.Lock()
	if s.stopAt < 0 {
		s.stopAt = max(s.out.Now()-s.at, 0)
	}
	s.timer.Stop()
	s.out.mu.Unlock()
	go s.end()
}
