// Package realtime selects the remote model service for voice sessions.
package realtime

import (
	"context"
	"fmt"

	"github.com/joan6141318-ai/Moon-sub000/config"
	"github.com/joan6141318-ai/Moon-sub000/realtime/gemini"
	"github.com/joan6141318-ai/Moon-sub000/realtime/openai"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// Provider opens live sessions and renders one-shot speech.
type Provider interface {
	voice.Dialer
	voice.Synthesizer
}

// New creates the provider named by cfg.Name. Zero values are replaced with
// the provider's defaults.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	switch cfg.Name {
	case config.ProviderGemini, "":
		return gemini.New(ctx, gemini.Config{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			TTSModel: cfg.TTSModel,
			Voice:    cfg.Voice,
		})
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			TTSModel: cfg.TTSModel,
			Voice:    cfg.Voice,
		})
	default:
		return nil, fmt.Errorf("realtime: unknown provider %q", cfg.Name)
	}
}

// LiveConfig builds the per-session configuration from cfg.
func LiveConfig(cfg *config.Config) voice.LiveConfig {
	lc := voice.LiveConfig{
		Model:               cfg.Provider.Model,
		Voice:               cfg.Provider.Voice,
		SystemInstruction:   cfg.Session.SystemInstruction,
		Language:            cfg.Session.LanguageTag(),
		InputTranscription:  true,
		OutputTranscription: true,
	}
	if cfg.Session.GoogleSearch && cfg.Provider.Name != config.ProviderOpenAI {
		lc.Tools = append(lc.Tools, voice.ToolGoogleSearch)
	}
	return lc
}

// ControllerConfig builds the session controller configuration from cfg.
func ControllerConfig(cfg *config.Config) voice.Config {
	vc := voice.DefaultConfig()
	vc.Live = LiveConfig(cfg)
	vc.IntroText = cfg.Session.IntroText
	if cfg.Session.GracePeriod > 0 {
		vc.GracePeriod = cfg.Session.GracePeriod
	}
	if cfg.Session.FrameSize > 0 {
		vc.FrameSize = cfg.Session.FrameSize
	}
	if cfg.Session.LatencyResolution > 0 {
		vc.LatencyResolution = cfg.Session.LatencyResolution
	}
	return vc
}
