package voice

import (
	"context"
	"errors"

	"github.com/joan6141318-ai/Moon-sub000/audio"
)

// Sentinel errors.
var (
	ErrNoAudio   = errors.New("voice: synthesis returned no audio")
	ErrMicDenied = errors.New("voice: microphone access denied")
	ErrClosed    = errors.New("voice: session closed")
)

// Tool names accepted in LiveConfig.Tools.
const (
	ToolGoogleSearch = "google_search"
)

// LiveConfig configures a remote streaming session.
type LiveConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	Language            string
	Tools               []string
	InputTranscription  bool
	OutputTranscription bool
}

// Dialer opens remote streaming sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg LiveConfig) (Session, error)
}

// Session is an open bidirectional streaming session.
type Session interface {
	// Send forwards one audio chunk. It does not wait for acknowledgement.
	Send(chunk audio.Chunk) error
	// Events delivers session events in arrival order. The channel is closed
	// after the final CloseEvent or ErrorEvent.
	Events() <-chan Event
	// Close ends the session. It is idempotent.
	Close() error
}

// SpeechRequest asks for a one-shot spoken rendering of Text.
type SpeechRequest struct {
	Text  string
	Voice string
}

// Synthesizer renders text to speech. The result is PCM16 mono at
// audio.OutputSampleRate, or ErrNoAudio when the service returned nothing.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, req SpeechRequest) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	return f(ctx, req)
}
