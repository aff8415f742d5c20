package voice

import "fmt"

// Event is a discriminated union for remote session events.
// Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// OpenEvent is emitted once the session handshake completes.
type OpenEvent struct{}

func (OpenEvent) eventType() string { return "open" }

// MessageEvent carries incremental server content. Every field is optional.
type MessageEvent struct {
	InputTranscription  string // user speech-to-text fragment
	OutputTranscription string // model speech-to-text fragment
	Audio               []byte // PCM16 mono at audio.OutputSampleRate
	TurnComplete        bool
	Interrupted         bool
}

func (MessageEvent) eventType() string { return "message" }

// Empty reports whether the message carries nothing actionable.
func (m MessageEvent) Empty() bool {
	return m.InputTranscription == "" && m.OutputTranscription == "" &&
		len(m.Audio) == 0 && !m.TurnComplete && !m.Interrupted
}

// ErrorEvent reports a transport or protocol failure.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) eventType() string { return "error" }

func (e ErrorEvent) Error() string {
	return fmt.Sprintf("remote session error: %v", e.Err)
}

func (e ErrorEvent) Unwrap() error { return e.Err }

// CloseEvent reports that the remote side ended the session.
type CloseEvent struct {
	Reason string
}

func (CloseEvent) eventType() string { return "close" }
