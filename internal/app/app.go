// Package app wires configuration, providers and supporting services into
// voice sessions.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/config"
	"github.com/joan6141318-ai/Moon-sub000/introcache"
	"github.com/joan6141318-ai/Moon-sub000/langdetect"
	"github.com/joan6141318-ai/Moon-sub000/metrics"
	"github.com/joan6141318-ai/Moon-sub000/realtime"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// Service builds voice sessions that share one provider, intro cache,
// language detector and metrics registry.
type Service struct {
	cfg      *config.Config
	provider realtime.Provider
	synth    voice.Synthesizer
	cache    *introcache.Cache
	detector voice.LanguageDetector
	metrics  *metrics.Metrics

	// Version info (set by caller)
	version string
}

// Option configures a Service.
type Option func(*Service)

// WithProvider replaces the provider selected by the configuration.
func WithProvider(p realtime.Provider) Option {
	return func(s *Service) { s.provider = p }
}

// New creates a Service from cfg.
func New(ctx context.Context, cfg *config.Config, version string, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		version: version,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		p, err := realtime.New(ctx, cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
		s.provider = p
	}
	s.synth = s.provider

	// Initialize cache
	s.setupCache()

	// Initialize language detection
	s.setupLangDetect()

	slog.Info("voice service ready",
		"provider", s.ProviderName(),
		"model", cfg.Provider.Model,
		"cache", s.cache != nil,
		"langdetect", s.detector != nil)
	return s, nil
}

func (s *Service) setupCache() {
	if !s.cfg.Cache.Enabled {
		return
	}
	c, err := introcache.Open(introcache.Options{
		Dir:      s.cfg.Cache.Dir,
		InMemory: s.cfg.Cache.InMemory,
		TTL:      s.cfg.Cache.TTL,
	})
	if err != nil {
		slog.Error("init intro cache", "error", err)
		return
	}
	s.cache = c
	s.synth = introcache.Wrap(s.provider, c, s.cfg.Provider.TTSModel, s.metrics)
	slog.Info("intro cache initialized", "path", s.cfg.Cache.Dir, "in_memory", s.cfg.Cache.InMemory)
}

func (s *Service) setupLangDetect() {
	if !s.cfg.LangDetect.Enabled {
		return
	}
	d, err := langdetect.New(s.cfg.LangDetect.Languages)
	if err != nil {
		slog.Error("init language detection", "error", err)
		return
	}
	s.detector = d
}

// NewController creates a session controller on device reporting to
// observer. observer may be nil.
func (s *Service) NewController(device audio.Device, observer voice.Observer) *voice.Controller {
	opts := []voice.Option{voice.WithRecorder(s.metrics)}
	if observer != nil {
		opts = append(opts, voice.WithObserver(observer))
	}
	if s.detector != nil {
		opts = append(opts, voice.WithLanguageDetector(s.detector))
	}
	return voice.NewController(realtime.ControllerConfig(s.cfg), s.provider, s.synth, device, opts...)
}

// Synthesizer returns the intro synthesizer, cached when enabled.
func (s *Service) Synthesizer() voice.Synthesizer {
	return s.synth
}

// Metrics returns the shared metrics registry.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// ProviderName returns the configured provider name.
func (s *Service) ProviderName() string {
	if s.cfg.Provider.Name == "" {
		return config.ProviderGemini
	}
	return s.cfg.Provider.Name
}

// Version returns the application version.
func (s *Service) Version() string {
	return s.version
}

// Shutdown releases the intro cache.
func (s *Service) Shutdown() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("close intro cache", "error", err)
		}
		s.cache = nil
	}
}
