// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "moon"
	envPrefix  = "MOON"
	configName = "config"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrMissingAPIKey is returned when the provider needs a key and none is set.
var ErrMissingAPIKey = errors.New("config: provider api key is not set")

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Provider   ProviderConfig   `mapstructure:"provider" yaml:"provider"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	LangDetect LangDetectConfig `mapstructure:"langdetect" yaml:"langdetect"`
}

// ServerConfig configures the HTTP and websocket front end.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ReadLimit        int64         `mapstructure:"read_limit" yaml:"read_limit" validate:"gte=1024"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout" validate:"gte=0"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	ICEServers       []string      `mapstructure:"ice_servers" yaml:"ice_servers"`
}

// ProviderConfig selects and configures the remote model service.
type ProviderConfig struct {
	Name     string `mapstructure:"name" yaml:"name" validate:"oneof=gemini openai"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model    string `mapstructure:"model" yaml:"model"`
	TTSModel string `mapstructure:"tts_model" yaml:"tts_model"`
	Voice    string `mapstructure:"voice" yaml:"voice"`
}

// SessionConfig configures each live voice session.
type SessionConfig struct {
	SystemInstruction string        `mapstructure:"system_instruction" yaml:"system_instruction"`
	IntroText         string        `mapstructure:"intro_text" yaml:"intro_text"`
	Language          string        `mapstructure:"language" yaml:"language" validate:"omitempty,langtag"`
	GracePeriod       time.Duration `mapstructure:"grace_period" yaml:"grace_period" validate:"gte=0"`
	FrameSize         int           `mapstructure:"frame_size" yaml:"frame_size" validate:"gte=0"`
	LatencyResolution time.Duration `mapstructure:"latency_resolution" yaml:"latency_resolution" validate:"gte=0"`
	GoogleSearch      bool          `mapstructure:"google_search" yaml:"google_search"`
}

// CacheConfig configures the intro speech cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	InMemory bool          `mapstructure:"in_memory" yaml:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"oneof=pretty text json"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" validate:"omitempty,startswith=/"`
}

// LangDetectConfig configures transcript language tagging.
type LangDetectConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Languages []string `mapstructure:"languages" yaml:"languages" validate:"dive,langtag"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			AllowedOrigins:   []string{"*"},
			ReadLimit:        1 << 20,
			HandshakeTimeout: 10 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
		},
		Provider: ProviderConfig{
			Name:     ProviderGemini,
			Model:    "gemini-2.5-flash-native-audio-preview-09-2025",
			TTSModel: "gemini-2.5-flash-preview-tts",
			Voice:    "Kore",
		},
		Session: SessionConfig{
			SystemInstruction: defaultInstruction,
			IntroText:         defaultIntro,
			Language:          "es-419",
			GracePeriod:       300 * time.Millisecond,
			FrameSize:         4096,
			LatencyResolution: 100 * time.Millisecond,
			GoogleSearch:      true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     defaultCacheDir(),
			TTL:     30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "pretty",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		LangDetect: LangDetectConfig{
			Enabled:   true,
			Languages: []string{"es", "en", "pt"},
		},
	}
}

const defaultInstruction = `Eres la asistente de voz de una agencia de representación de talento.
Responde en el idioma del usuario, con frases cortas y un tono cálido y profesional.
Ayuda con preguntas sobre la agencia, los planes de pago y cómo postularse.
Si no sabes algo, dilo y ofrece contactar a un representante.`

const defaultIntro = "¡Hola! Soy la asistente de la agencia. ¿En qué te puedo ayudar hoy?"

// Load reads configuration from path (optional), the default search
// locations and MOON_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Provider.APIKey = resolveAPIKey(cfg.Provider)
	cfg.Cache.Dir = expandPath(cfg.Cache.Dir)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_limit", d.Server.ReadLimit)
	v.SetDefault("server.handshake_timeout", d.Server.HandshakeTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.ice_servers", d.Server.ICEServers)

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.tts_model", d.Provider.TTSModel)
	v.SetDefault("provider.voice", d.Provider.Voice)

	v.SetDefault("session.system_instruction", d.Session.SystemInstruction)
	v.SetDefault("session.intro_text", d.Session.IntroText)
	v.SetDefault("session.language", d.Session.Language)
	v.SetDefault("session.grace_period", d.Session.GracePeriod)
	v.SetDefault("session.frame_size", d.Session.FrameSize)
	v.SetDefault("session.latency_resolution", d.Session.LatencyResolution)
	v.SetDefault("session.google_search", d.Session.GoogleSearch)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.in_memory", d.Cache.InMemory)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("langdetect.enabled", d.LangDetect.Enabled)
	v.SetDefault("langdetect.languages", d.LangDetect.Languages)
}

// resolveAPIKey falls back to the provider's conventional variable and then
// to API_KEY.
func resolveAPIKey(p ProviderConfig) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	var names []string
	switch p.Name {
	case ProviderGemini:
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case ProviderOpenAI:
		names = []string{"OPENAI_API_KEY"}
	}
	names = append(names, "API_KEY")
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("langtag", func(fl validator.FieldLevel) bool {
		_, err := language.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireAPIKey reports ErrMissingAPIKey when no key is configured.
func (p ProviderConfig) RequireAPIKey() error {
	if p.APIKey == "" {
		return fmt.Errorf("%w (set provider.api_key or MOON_PROVIDER_API_KEY)", ErrMissingAPIKey)
	}
	return nil
}

// LanguageTag returns the canonical BCP 47 form of the session language, or
// "" when unset.
func (s SessionConfig) LanguageTag() string {
	if s.Language == "" {
		return ""
	}
	tag, err := language.Parse(s.Language)
	if err != nil {
		return ""
	}
	return tag.String()
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "****"
	}
	return &out
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// WriteFile writes the configuration as YAML, creating parent directories.
// It refuses to overwrite an existing file unless force is set.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultPath returns the user config file location.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName+".yaml"), nil
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "intro")
	}
	return filepath.Join(dir, appName, "intro")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
