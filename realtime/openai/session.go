// Package openai connects voice sessions to the OpenAI Realtime API and
// renders intro speech with the Audio API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

const (
	// DefaultVoice is the default realtime voice.
	DefaultVoice = "alloy"
	// DefaultTranscriptionModel transcribes user speech.
	DefaultTranscriptionModel = "whisper-1"

	// realtimeRate is the PCM16 rate used by the Realtime API in both
	// directions.
	realtimeRate = 24000

	sendQueueSize = 64
)

// Config holds configuration for the OpenAI provider.
type Config struct {
	APIKey   string
	BaseURL  string // Realtime websocket URL. Default: DefaultURL
	Model    string // Default: DefaultModel
	TTSModel string // Default: gpt-4o-mini-tts
	Voice    string // Default: DefaultVoice
}

// Provider implements voice.Dialer and voice.Synthesizer.
type Provider struct {
	cfg    Config
	speech *speechClient
}

// New creates an OpenAI provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	return &Provider{cfg: cfg, speech: newSpeechClient(cfg.APIKey, cfg.TTSModel)}, nil
}

// Dial opens a realtime session and configures it for audio conversation.
func (p *Provider) Dial(ctx context.Context, lc voice.LiveConfig) (voice.Session, error) {
	model := lc.Model
	if model == "" {
		model = p.cfg.Model
	}
	if lc.Voice == "" {
		lc.Voice = p.cfg.Voice
	}

	client := NewClient(ClientConfig{APIKey: p.cfg.APIKey, Model: model, URL: p.cfg.BaseURL})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := client.Send(ctx, BuildSessionUpdate(lc)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("send session update: %w", err)
	}
	slog.Info("openai realtime connected", "model", model, "voice", lc.Voice)
	return newSession(client, lc.InputTranscription), nil
}

// BuildSessionUpdate translates a session configuration.
func BuildSessionUpdate(lc voice.LiveConfig) SessionUpdate {
	params := SessionParams{
		Modalities:        []string{"audio", "text"},
		Instructions:      lc.SystemInstruction,
		Voice:             lc.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &TurnDetection{
			Type:              VADTypeServerVAD,
			CreateResponse:    true,
			InterruptResponse: true,
		},
	}
	if lc.InputTranscription {
		params.InputTranscription = &InputTranscription{
			Model:    DefaultTranscriptionModel,
			Language: baseLanguage(lc.Language),
		}
	}
	for _, tool := range lc.Tools {
		slog.Warn("openai: ignoring unsupported tool", "tool", tool)
	}
	return SessionUpdate{Type: EventSessionUpdate, Session: params}
}

// baseLanguage reduces a BCP 47 tag to the ISO 639-1 code the
// transcription model accepts.
func baseLanguage(tag string) string {
	for i, r := range tag {
		if r == '-' || r == '_' {
			return tag[:i]
		}
	}
	return tag
}

type session struct {
	client *Client
	events chan voice.Event
	out    chan []byte

	once sync.Once
	done chan struct{}

	// Read-loop owned: items whose transcription arrived as deltas.
	streamed   map[string]bool
	transcribe bool
}

func newSession(client *Client, transcribe bool) *session {
	s := &session{
		client:     client,
		events:     make(chan voice.Event, 64),
		out:        make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		streamed:   make(map[string]bool),
		transcribe: transcribe,
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Send resamples a 16 kHz chunk to the realtime rate and queues it.
func (s *session) Send(chunk audio.Chunk) error {
	select {
	case <-s.done:
		return voice.ErrClosed
	default:
	}

	samples, err := audio.PCM16ToFloat(chunk.Data)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}
	pcm := audio.FloatToPCM16(audio.Resample(samples, audio.InputSampleRate, realtimeRate))

	select {
	case s.out <- pcm:
	default:
		slog.Warn("openai: send queue full, dropping chunk")
	}
	return nil
}

func (s *session) Events() <-chan voice.Event { return s.events }

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.client.Close()
	})
	return err
}

func (s *session) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case pcm := <-s.out:
			ev := AudioAppend{Type: EventInputAudioBufferAppend, Audio: audio.Encode(pcm)}
			if err := s.client.Send(ctx, ev); err != nil {
				slog.Debug("openai: append audio", "error", err)
			}
		}
	}
}

func (s *session) readLoop() {
	defer close(s.events)

	for ev := range s.client.Events() {
		out, ok := s.mapEvent(ev)
		if !ok {
			continue
		}
		select {
		case s.events <- out:
		case <-s.done:
			return
		}
	}

	var final voice.Event = voice.CloseEvent{Reason: "closed"}
	select {
	case err := <-s.client.Errors():
		final = closeEvent(err)
	default:
	}
	select {
	case s.events <- final:
	case <-s.done:
	}
}

func closeEvent(err error) voice.Event {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return voice.CloseEvent{Reason: "remote closed"}
	}
	return voice.ErrorEvent{Err: err}
}

// mapEvent converts a server event into a session event.
func (s *session) mapEvent(ev Event) (voice.Event, bool) {
	switch e := ev.(type) {
	case SessionCreatedEvent:
		return voice.OpenEvent{}, true
	case AudioDeltaEvent:
		pcm, err := audio.Decode(e.Delta)
		if err != nil {
			return voice.ErrorEvent{Err: fmt.Errorf("decode audio delta: %w", err)}, true
		}
		if len(pcm) == 0 {
			return nil, false
		}
		return voice.MessageEvent{Audio: pcm}, true
	case AudioTranscriptDeltaEvent:
		if e.Delta == "" {
			return nil, false
		}
		return voice.MessageEvent{OutputTranscription: e.Delta}, true
	case TranscriptDeltaEvent:
		if !s.transcribe || e.Delta == "" {
			return nil, false
		}
		s.streamed[e.ItemID] = true
		return voice.MessageEvent{InputTranscription: e.Delta}, true
	case TranscriptEvent:
		if !s.transcribe {
			return nil, false
		}
		if s.streamed[e.ItemID] {
			delete(s.streamed, e.ItemID)
			return nil, false
		}
		if e.Transcript == "" {
			return nil, false
		}
		return voice.MessageEvent{InputTranscription: e.Transcript}, true
	case SpeechStartedEvent:
		return voice.MessageEvent{Interrupted: true}, true
	case ResponseDoneEvent:
		return voice.MessageEvent{TurnComplete: true}, true
	case ErrorEvent:
		if e.Error.Type == "invalid_request_error" {
			// Request-level rejection; the session stays usable.
			slog.Warn("openai: request rejected", "code", e.Error.Code, "message", e.Error.Message)
			return nil, false
		}
		return voice.ErrorEvent{Err: fmt.Errorf("realtime %s: %s", e.Error.Type, e.Error.Message)}, true
	default:
		slog.Debug("openai: unhandled event", "type", ev.eventType())
		return nil, false
	}
}
