// Package config loads the server configuration from an optional YAML file
// layered under environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/interpreter/adapters/httpclient"
	"github.com/satriahrh/interpreter/adapters/stt"
	"github.com/satriahrh/interpreter/adapters/translation"
	"github.com/satriahrh/interpreter/adapters/tts"
	"github.com/satriahrh/interpreter/usecase"
)

// Provider names accepted for each collaborator
const (
	ProviderMock       = "mock"
	ProviderDeepgram   = "deepgram"
	ProviderGoogle     = "google"
	ProviderGroq       = "groq"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
)

type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Languages  LanguageConfig           `yaml:"languages"`
	Session    usecase.SessionConfig    `yaml:"session"`
	Providers  ProviderConfig           `yaml:"providers"`
	HTTPClient httpclient.Config        `yaml:"http_client"`
	Deepgram   DeepgramConfig           `yaml:"deepgram"`
	Google     stt.GoogleConfig         `yaml:"google"`
	Groq       translation.GroqConfig   `yaml:"groq"`
	Gemini     translation.GeminiConfig `yaml:"gemini"`
	ElevenLabs tts.ElevenLabsConfig     `yaml:"elevenlabs"`
	Logging    LoggingConfig            `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// JWTSecret enables token checks on /ws when set
	JWTSecret       string        `yaml:"jwt_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LanguageConfig struct {
	DefaultSource string `yaml:"default_source"`
	DefaultTarget string `yaml:"default_target"`
}

type ProviderConfig struct {
	STT         string `yaml:"stt"`
	Translation string `yaml:"translation"`
	TTS         string `yaml:"tts"`
}

// DeepgramConfig groups the Deepgram listen and speak settings, which share
// one API key
type DeepgramConfig struct {
	APIKey string             `yaml:"api_key"`
	STT    stt.DeepgramConfig `yaml:"stt"`
	TTS    tts.DeepgramConfig `yaml:"tts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Languages: LanguageConfig{
			DefaultSource: "es",
			DefaultTarget: "en",
		},
		Session: usecase.DefaultSessionConfig(),
		Providers: ProviderConfig{
			STT:         ProviderMock,
			Translation: ProviderMock,
			TTS:         ProviderMock,
		},
		HTTPClient: httpclient.DefaultConfig(),
		Deepgram: DeepgramConfig{
			STT: stt.DeepgramConfig{SmartFormat: true},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv loads .env if present, then the YAML file named by
// CONFIG_PATH if set, then environment overrides
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Load(os.Getenv("CONFIG_PATH"), os.Getenv)
}

// Load layers the YAML file at path (skipped when empty) and getenv
// overrides over the defaults and validates the result
func Load(path string, getenv func(string) string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(getenv); err != nil {
		return nil, err
	}
	config.propagate()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	set := func(target *string, key string) {
		if v := getenv(key); v != "" {
			*target = v
		}
	}
	set(&c.Server.JWTSecret, "JWT_SECRET")
	set(&c.Logging.Level, "LOG_LEVEL")
	set(&c.Logging.Format, "LOG_FORMAT")
	set(&c.Providers.STT, "STT_PROVIDER")
	set(&c.Providers.Translation, "TRANSLATION_PROVIDER")
	set(&c.Providers.TTS, "TTS_PROVIDER")
	set(&c.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	set(&c.Groq.APIKey, "GROQ_API_KEY")
	set(&c.Gemini.APIKey, "GEMINI_API_KEY")
	set(&c.ElevenLabs.APIKey, "ELEVEN_LABS_API_KEY")
	set(&c.Google.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	set(&c.Languages.DefaultSource, "DEFAULT_SOURCE_LANG")
	set(&c.Languages.DefaultTarget, "DEFAULT_TARGET_LANG")
	return nil
}

// propagate copies shared settings into the sections that use them
func (c *Config) propagate() {
	if c.Deepgram.STT.APIKey == "" {
		c.Deepgram.STT.APIKey = c.Deepgram.APIKey
	}
	if c.Deepgram.TTS.APIKey == "" {
		c.Deepgram.TTS.APIKey = c.Deepgram.APIKey
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Languages.Validate(); err != nil {
		return fmt.Errorf("languages config: %w", err)
	}

	if err := validateSession(c.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTPClient.Validate(); err != nil {
		return fmt.Errorf("http_client config: %w", err)
	}

	if err := c.validateProviders(); err != nil {
		return fmt.Errorf("providers config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}

	return nil
}

func (l *LanguageConfig) Validate() error {
	if l.DefaultSource == "" {
		return fmt.Errorf("default_source cannot be empty")
	}

	if l.DefaultTarget == "" {
		return fmt.Errorf("default_target cannot be empty")
	}

	return nil
}

func validateSession(s usecase.SessionConfig) error {
	if s.Buffer.WindowBytes < 1 {
		return fmt.Errorf("buffer.window_bytes must be at least 1, got %d", s.Buffer.WindowBytes)
	}

	if s.Buffer.MaxBufferedBytes < s.Buffer.WindowBytes {
		return fmt.Errorf("buffer.max_buffered_bytes (%d) must be at least window_bytes (%d)",
			s.Buffer.MaxBufferedBytes, s.Buffer.WindowBytes)
	}

	if s.Transcription.SampleRate < 8000 {
		return fmt.Errorf("transcription.sample_rate must be at least 8000 Hz, got %d", s.Transcription.SampleRate)
	}

	if s.Translation.Concurrency < 1 || s.Synthesis.Concurrency < 1 {
		return fmt.Errorf("stage concurrency must be at least 1")
	}

	if s.BacklogLimit < 1 {
		return fmt.Errorf("backlog_limit must be at least 1, got %d", s.BacklogLimit)
	}

	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %s", s.DrainTimeout)
	}

	return nil
}

func (c *Config) validateProviders() error {
	switch c.Providers.STT {
	case ProviderMock:
	case ProviderDeepgram:
		if err := c.Deepgram.STT.Validate(); err != nil {
			return fmt.Errorf("stt: %w", err)
		}
	case ProviderGoogle:
	default:
		return fmt.Errorf("stt must be one of [mock, deepgram, google], got '%s'", c.Providers.STT)
	}

	switch c.Providers.Translation {
	case ProviderMock:
	case ProviderGroq:
		if err := c.Groq.Validate(); err != nil {
			return fmt.Errorf("translation: %w", err)
		}
	case ProviderGemini:
		if err := c.Gemini.Validate(); err != nil {
			return fmt.Errorf("translation: %w", err)
		}
	default:
		return fmt.Errorf("translation must be one of [mock, groq, gemini], got '%s'", c.Providers.Translation)
	}

	switch c.Providers.TTS {
	case ProviderMock:
	case ProviderDeepgram:
		if err := c.Deepgram.TTS.Validate(); err != nil {
			return fmt.Errorf("tts: %w", err)
		}
	case ProviderElevenLabs:
		if err := tts.ValidateElevenLabsConfig(c.ElevenLabs); err != nil {
			return fmt.Errorf("tts: %w", err)
		}
	default:
		return fmt.Errorf("tts must be one of [mock, deepgram, elevenlabs], got '%s'", c.Providers.TTS)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}

	return nil
}

// NewLogger builds the process logger: production settings for json,
// development settings for console
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if l.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level
	zapConfig.Encoding = l.Format

	return zapConfig.Build()
}
