package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

const (
	defaultDeepgramSpeakURL = "https://api.deepgram.com/v1/speak"
	defaultDeepgramVoice    = "aura-asteria-en"
)

// defaultDeepgramVoices maps a target language to an Aura voice
var defaultDeepgramVoices = map[string]string{
	"en": "aura-asteria-en",
	"es": "aura-2-celeste-es",
	"fr": "aura-2-agathe-fr",
	"de": "aura-2-lara-de",
	"pt": "aura-asteria-en",
}

// DeepgramConfig holds configuration for the Deepgram Aura adapter
type DeepgramConfig struct {
	APIKey       string `yaml:"api_key"`
	URL          string `yaml:"url"`
	DefaultVoice string `yaml:"default_voice"`
	// Voices overrides the per-language voice map
	Voices map[string]string `yaml:"voices"`
}

// Validate checks the Deepgram settings
func (c DeepgramConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("deepgram API key is required")
	}
	return nil
}

// DeepgramTTS implements TextToSpeech with Deepgram Aura, returning mp3
type DeepgramTTS struct {
	apiKey       string
	url          string
	defaultVoice string
	voices       map[string]string
	client       *http.Client
	logger       *zap.Logger
}

var _ repositories.TextToSpeech = (*DeepgramTTS)(nil)

// NewDeepgramTTS creates a Deepgram TTS adapter on the shared HTTP client
func NewDeepgramTTS(config DeepgramConfig, client *http.Client, logger *zap.Logger) (*DeepgramTTS, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	voices := make(map[string]string, len(defaultDeepgramVoices)+len(config.Voices))
	for lang, voice := range defaultDeepgramVoices {
		voices[lang] = voice
	}
	for lang, voice := range config.Voices {
		voices[lang] = voice
	}

	d := &DeepgramTTS{
		apiKey:       config.APIKey,
		url:          config.URL,
		defaultVoice: config.DefaultVoice,
		voices:       voices,
		client:       client,
		logger:       logger,
	}
	if d.url == "" {
		d.url = defaultDeepgramSpeakURL
	}
	if d.defaultVoice == "" {
		d.defaultVoice = defaultDeepgramVoice
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	return d, nil
}

func (d *DeepgramTTS) Name() string {
	return "deepgram"
}

// Voice returns the voice used for a request: the requested one, else the
// language's, else the default
func (d *DeepgramTTS) Voice(request repositories.SynthesisRequest) string {
	if request.Voice != "" {
		return request.Voice
	}
	if voice, ok := d.voices[request.Language]; ok {
		return voice
	}
	return d.defaultVoice
}

// Synthesize renders text as one mp3 payload
func (d *DeepgramTTS) Synthesize(ctx context.Context, request repositories.SynthesisRequest) (repositories.SynthesisResult, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return repositories.SynthesisResult{}, fmt.Errorf("invalid deepgram URL: %w", err)
	}
	voice := d.Voice(request)
	q := u.Query()
	q.Set("model", voice)
	q.Set("encoding", entities.EncodingMP3)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"text": request.Text})
	if err != nil {
		return repositories.SynthesisResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return repositories.SynthesisResult{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return repositories.SynthesisResult{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return repositories.SynthesisResult{}, fmt.Errorf("deepgram API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return repositories.SynthesisResult{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return repositories.SynthesisResult{}, ErrEmptyAudio
	}

	d.logger.Debug("Synthesized segment", zap.String("voice", voice), zap.Int("bytes", len(audio)))
	return repositories.SynthesisResult{Audio: audio, Encoding: entities.EncodingMP3}, nil
}
