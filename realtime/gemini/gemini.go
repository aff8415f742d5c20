// Package gemini connects voice sessions to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

const (
	// DefaultModel is the default native-audio Live model.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	// DefaultTTSModel renders the intro utterance.
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"
	// DefaultVoice is the default prebuilt voice.
	DefaultVoice = "Kore"

	sendQueueSize  = 64
	eventQueueSize = 64
)

// Config holds configuration for the Gemini provider.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string // Default: DefaultModel
	TTSModel string // Default: DefaultTTSModel
	Voice    string // Default: DefaultVoice
}

// Provider implements voice.Dialer and voice.Synthesizer.
type Provider struct {
	client *genai.Client
	cfg    Config
}

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{client: client, cfg: cfg}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Live session
// ─────────────────────────────────────────────────────────────────────────────

// Dial opens a Live session.
func (p *Provider) Dial(ctx context.Context, lc voice.LiveConfig) (voice.Session, error) {
	model := lc.Model
	if model == "" {
		model = p.cfg.Model
	}
	if lc.Voice == "" {
		lc.Voice = p.cfg.Voice
	}

	conn, err := p.client.Live.Connect(ctx, model, ConnectConfig(lc))
	if err != nil {
		return nil, fmt.Errorf("connect live: %w", err)
	}
	slog.Info("gemini live connected", "model", model, "voice", lc.Voice)
	return newSession(conn), nil
}

// ConnectConfig translates a session configuration into the Live setup.
func ConnectConfig(lc voice.LiveConfig) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: lc.Voice},
			},
			LanguageCode: lc.Language,
		},
	}
	if lc.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(lc.SystemInstruction, genai.RoleUser)
	}
	if lc.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if lc.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	for _, name := range lc.Tools {
		switch name {
		case voice.ToolGoogleSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		default:
			slog.Warn("gemini: ignoring unsupported tool", "tool", name)
		}
	}
	return cfg
}

// liveConn is the part of *genai.Session used here.
type liveConn interface {
	SendRealtimeInput(genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type session struct {
	conn   liveConn
	events chan voice.Event
	out    chan audio.Chunk

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newSession(conn liveConn) *session {
	s := &session{
		conn:   conn,
		events: make(chan voice.Event, eventQueueSize),
		out:    make(chan audio.Chunk, sendQueueSize),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Send queues a chunk without waiting for the socket.
func (s *session) Send(chunk audio.Chunk) error {
	select {
	case <-s.done:
		return voice.ErrClosed
	default:
	}
	select {
	case s.out <- chunk:
		return nil
	default:
		slog.Warn("gemini: send queue full, dropping chunk")
		return nil
	}
}

func (s *session) Events() <-chan voice.Event { return s.events }

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.out:
			err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
			})
			if err != nil {
				slog.Debug("gemini: send realtime input", "error", err)
			}
		}
	}
}

func (s *session) readLoop() {
	defer close(s.events)

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.emit(receiveEvent(err, s.isClosed()))
			return
		}
		for _, ev := range MapMessage(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *session) emit(ev voice.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func receiveEvent(err error, closedLocally bool) voice.Event {
	if closedLocally {
		return voice.CloseEvent{Reason: "closed"}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return voice.CloseEvent{Reason: ce.Text}
		}
		return voice.CloseEvent{Reason: "remote closed"}
	}
	return voice.ErrorEvent{Err: fmt.Errorf("receive live message: %w", err)}
}

// MapMessage converts one server message into session events.
func MapMessage(msg *genai.LiveServerMessage) []voice.Event {
	if msg == nil {
		return nil
	}

	var events []voice.Event
	if msg.SetupComplete != nil {
		events = append(events, voice.OpenEvent{})
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server going away", "time_left", msg.GoAway.TimeLeft)
	}

	sc := msg.ServerContent
	if sc == nil {
		return events
	}

	var m voice.MessageEvent
	if sc.InputTranscription != nil {
		m.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscription = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				continue
			}
			m.Audio = append(m.Audio, part.InlineData.Data...)
		}
	}
	m.Interrupted = sc.Interrupted
	m.TurnComplete = sc.TurnComplete

	if !m.Empty() {
		events = append(events, m)
	}
	return events
}

// ─────────────────────────────────────────────────────────────────────────────
// Speech synthesis
// ─────────────────────────────────────────────────────────────────────────────

// Synthesize renders req as 24 kHz PCM16 with the TTS model.
func (p *Provider) Synthesize(ctx context.Context, req voice.SpeechRequest) ([]byte, error) {
	voiceName := req.Voice
	if voiceName == "" {
		voiceName = p.cfg.Voice
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.TTSModel, genai.Text(req.Text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate speech: %w", err)
	}
	return SpeechAudio(resp)
}

// SpeechAudio extracts the first inline audio payload of a response.
func SpeechAudio(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, voice.ErrNoAudio
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, voice.ErrNoAudio
}
