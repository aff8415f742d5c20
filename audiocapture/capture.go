// Package audiocapture delivers recorded audio as a live microphone stream.
package audiocapture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
)

// ErrRunning is returned when Start is called on a running capturer.
var ErrRunning = errors.New("audiocapture: already running")

// ErrNilHandler is returned when Start is called without a handler.
var ErrNilHandler = errors.New("audiocapture: nil handler")

// AudioHandler receives one block of mono float samples in [-1, 1].
// The slice is only valid for the duration of the call.
type AudioHandler func(samples []float32)

// Capturer produces blocks of audio until stopped.
type Capturer interface {
	Start(handler AudioHandler) error
	Stop() error
}

// Config holds configuration for a file capturer.
type Config struct {
	SampleRate int           // Delivery rate, default 16000 Hz
	BlockSize  int           // Samples per block, default 4096
	Realtime   bool          // Pace blocks at the rate they would be recorded
	Trailing   time.Duration // Silence appended after the recording
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.InputSampleRate,
		BlockSize:  audio.FrameSize,
		Realtime:   true,
		Trailing:   2 * time.Second,
	}
}

// File replays a recording block by block.
type File struct {
	cfg     Config
	samples []float32

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	finished chan struct{}
	once     sync.Once
}

// NewFile creates a capturer over samples already at cfg.SampleRate.
func NewFile(samples []float32, cfg Config) *File {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.FrameSize
	}
	if cfg.Trailing > 0 {
		pad := int(cfg.Trailing.Seconds() * float64(cfg.SampleRate))
		samples = append(samples[:len(samples):len(samples)], make([]float32, pad)...)
	}
	return &File{
		cfg:      cfg,
		samples:  samples,
		finished: make(chan struct{}),
	}
}

// OpenFile decodes a 16-bit PCM WAV file and resamples it to cfg.SampleRate.
func OpenFile(path string, cfg Config) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	samples = audio.Resample(samples, rate, cfg.SampleRate)
	slog.Debug("opened capture file", "path", path, "rate", rate, "samples", len(samples))
	return NewFile(samples, cfg), nil
}

// Duration returns the play time of the recording including trailing silence.
func (f *File) Duration() time.Duration {
	return audio.DurationOf(len(f.samples), f.cfg.SampleRate)
}

// Finished is closed once every block has been delivered.
func (f *File) Finished() <-chan struct{} {
	return f.finished
}

func (f *File) Start(handler AudioHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return ErrRunning
	}
	f.running = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})

	go f.run(handler, f.stop, f.done)
	return nil
}

func (f *File) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	close(f.stop)
	done := f.done
	f.mu.Unlock()

	<-done
	return nil
}

func (f *File) run(handler AudioHandler, stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if f.cfg.Realtime {
		t := time.NewTicker(audio.DurationOf(f.cfg.BlockSize, f.cfg.SampleRate))
		defer t.Stop()
		tick = t.C
	}

	block := make([]float32, f.cfg.BlockSize)
	for pos := 0; pos < len(f.samples); pos += f.cfg.BlockSize {
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		n := copy(block, f.samples[pos:])
		clear(block[n:])
		handler(block)
	}

	f.once.Do(func() { close(f.finished) })
	slog.Debug("capture file exhausted", "samples", len(f.samples))
}
