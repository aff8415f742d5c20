package openai

import "encoding/json"

// Server event types from the OpenAI Realtime API.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventAudioDelta             = "response.audio.delta"
	EventOutputAudioDelta       = "response.output_audio.delta"
	EventAudioTranscriptDelta   = "response.audio_transcript.delta"
	EventOutputTranscriptDelta  = "response.output_audio_transcript.delta"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventResponseDone           = "response.done"
	EventError                  = "error"
)

// Client event types.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
)

// VADType specifies the type of voice activity detection.
type VADType string

const (
	VADTypeSemanticVAD VADType = "semantic_vad"
	VADTypeServerVAD   VADType = "server_vad"
)

// TurnDetection configures voice activity detection.
type TurnDetection struct {
	Type              VADType `json:"type"`
	CreateResponse    bool    `json:"create_response,omitempty"`
	InterruptResponse bool    `json:"interrupt_response,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// InputTranscription configures user speech transcription.
type InputTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// SessionParams is the session block of a session.update event.
type SessionParams struct {
	Modalities         []string            `json:"modalities,omitempty"`
	Instructions       string              `json:"instructions,omitempty"`
	Voice              string              `json:"voice,omitempty"`
	InputAudioFormat   string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string              `json:"output_audio_format,omitempty"`
	InputTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection      *TurnDetection      `json:"turn_detection,omitempty"`
}

// SessionUpdate is a client event to update session configuration.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// AudioAppend is a client event carrying base64 PCM16.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Event is a discriminated union for Realtime API server events.
// Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// SessionCreatedEvent is emitted once the socket is ready.
type SessionCreatedEvent struct {
	EventID string `json:"event_id"`
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
}

func (SessionCreatedEvent) eventType() string { return EventSessionCreated }

// AudioDeltaEvent carries a base64 PCM16 fragment of model audio.
type AudioDeltaEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

func (AudioDeltaEvent) eventType() string { return EventAudioDelta }

// AudioTranscriptDeltaEvent carries model speech text.
type AudioTranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

func (AudioTranscriptDeltaEvent) eventType() string { return EventAudioTranscriptDelta }

// TranscriptDeltaEvent is emitted for streaming user transcription updates.
type TranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
}

func (TranscriptDeltaEvent) eventType() string { return EventTranscriptionDelta }

// TranscriptEvent is emitted when user transcription completes.
type TranscriptEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (TranscriptEvent) eventType() string { return EventTranscriptionCompleted }

// SpeechStartedEvent is emitted when server VAD detects user speech.
type SpeechStartedEvent struct {
	EventID      string `json:"event_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (SpeechStartedEvent) eventType() string { return EventSpeechStarted }

// ResponseDoneEvent closes a model response.
type ResponseDoneEvent struct {
	EventID  string `json:"event_id"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

func (ResponseDoneEvent) eventType() string { return EventResponseDone }

// ErrorEvent is emitted when an API error occurs.
type ErrorEvent struct {
	EventID string `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't recognize.
type UnknownEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseEvent unmarshals JSON into the appropriate Event type.
func ParseEvent(data []byte) (Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSessionCreated:
		return decode[SessionCreatedEvent](data)
	case EventAudioDelta, EventOutputAudioDelta:
		return decode[AudioDeltaEvent](data)
	case EventAudioTranscriptDelta, EventOutputTranscriptDelta:
		return decode[AudioTranscriptDeltaEvent](data)
	case EventTranscriptionDelta:
		return decode[TranscriptDeltaEvent](data)
	case EventTranscriptionCompleted:
		return decode[TranscriptEvent](data)
	case EventSpeechStarted:
		return decode[SpeechStartedEvent](data)
	case EventResponseDone:
		return decode[ResponseDoneEvent](data)
	case EventError:
		return decode[ErrorEvent](data)
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

func decode[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
