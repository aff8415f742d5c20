package audio

import (
	"context"
	"time"
)

// ProcessFunc receives one block of captured samples. out is the monitor
// buffer of the processing node; it may be nil when the device has none.
type ProcessFunc func(in, out []float32)

// Input is an acquired microphone stream.
type Input interface {
	// Start begins delivering blocks to fn until Stop.
	Start(fn ProcessFunc) error
	// Stop releases the stream. It is idempotent.
	Stop() error
}

// Source is a scheduled playback handle.
type Source interface {
	// Stop halts playback. The ended callback may still fire.
	Stop()
}

// Output is an audio sink with its own monotonic clock.
type Output interface {
	// Now returns the current output clock time.
	Now() time.Duration
	// Play schedules buf to start at the given output time. onEnded is called
	// at most once, from any goroutine, when playback finishes or is stopped.
	Play(buf *Buffer, at time.Duration, onEnded func()) (Source, error)
	// Close releases the output. It is idempotent.
	Close() error
}

// Device provides microphone and speaker access.
type Device interface {
	// OpenInput acquires the microphone. It may block on user permission.
	OpenInput(ctx context.Context) (Input, error)
	// OpenOutput creates an output running at sampleRate.
	OpenOutput(sampleRate int) (Output, error)
}
