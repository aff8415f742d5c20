package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

// Message types sent by the widget.
const (
	TypeToggle   = "toggle"
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeMic      = "mic"
	TypeAudio    = "audio"
	TypeEnded    = "ended"
	TypeClock    = "clock"
	TypeRTCOffer = "rtc_offer"
)

// Message types sent to the widget.
const (
	TypeState       = "state"
	TypeTranscript  = "transcript"
	TypeLatency     = "latency"
	TypeMicRequest  = "mic_request"
	TypeOutputOpen  = "output_open"
	TypePlay        = "play"
	TypeStopSource  = "stop"
	TypeOutputClose = "output_close"
	TypeRTCAnswer   = "rtc_answer"
	TypeError       = "error"
)

// ErrUnknownMessage is returned by ParseMessage for unrecognized types.
var ErrUnknownMessage = errors.New("bridge: unknown message type")

// Message is a discriminated union of widget messages.
// Check the concrete type via type switch.
type Message interface {
	messageType() string
}

// ToggleMessage flips the session between running and stopped.
type ToggleMessage struct{}

func (ToggleMessage) messageType() string { return TypeToggle }

// StartMessage starts a session if none is running.
type StartMessage struct{}

func (StartMessage) messageType() string { return TypeStart }

// StopMessage stops the running session.
type StopMessage struct{}

func (StopMessage) messageType() string { return TypeStop }

// MicMessage answers a mic_request.
type MicMessage struct {
	Granted bool `json:"granted"`
}

func (MicMessage) messageType() string { return TypeMic }

// AudioMessage carries one captured block of base64 PCM16 at 16 kHz.
type AudioMessage struct {
	Data string `json:"data"`
	Seq  int    `json:"seq"`
}

func (AudioMessage) messageType() string { return TypeAudio }

// EndedMessage reports that a played source finished or was stopped.
type EndedMessage struct {
	ID uint64 `json:"id"`
}

func (EndedMessage) messageType() string { return TypeEnded }

// ClockMessage reports the widget's output clock in milliseconds.
type ClockMessage struct {
	Ms float64 `json:"ms"`
}

func (ClockMessage) messageType() string { return TypeClock }

// RTCOfferMessage asks to move the microphone uplink onto WebRTC.
type RTCOfferMessage struct {
	SDP string `json:"sdp"`
}

func (RTCOfferMessage) messageType() string { return TypeRTCOffer }

// ParseMessage decodes a widget message based on its "type" field.
func ParseMessage(data []byte) (Message, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch header.Type {
	case TypeToggle:
		return ToggleMessage{}, nil
	case TypeStart:
		return StartMessage{}, nil
	case TypeStop:
		return StopMessage{}, nil
	case TypeMic:
		return decode[MicMessage](data)
	case TypeAudio:
		return decode[AudioMessage](data)
	case TypeEnded:
		return decode[EndedMessage](data)
	case TypeClock:
		return decode[ClockMessage](data)
	case TypeRTCOffer:
		return decode[RTCOfferMessage](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, header.Type)
	}
}

func decode[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.messageType(), err)
	}
	return m, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Outbound
// ─────────────────────────────────────────────────────────────────────────────

type stateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Label string `json:"label"`
}

type transcriptMessage struct {
	Type    string                  `json:"type"`
	Entries []types.TranscriptEntry `json:"entries"`
}

type latencyMessage struct {
	Type    string `json:"type"`
	Ms      int64  `json:"ms"`
	Running bool   `json:"running"`
}

type outputOpenMessage struct {
	Type string `json:"type"`
	Rate int    `json:"rate"`
}

type playMessage struct {
	Type string  `json:"type"`
	ID   uint64  `json:"id"`
	AtMs float64 `json:"at_ms"`
	Data string  `json:"data"`
	Rate int     `json:"rate"`
}

type sourceMessage struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type bareMessage struct {
	Type string `json:"type"`
}
