package translation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/interpreter/domain/repositories"
)

const (
	defaultGeminiModel       = "gemini-2.0-flash"
	defaultGeminiTemperature = 0.3
	defaultGeminiMaxTokens   = 1024
)

// GeminiConfig holds configuration for the Gemini translation adapter
type GeminiConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int32   `yaml:"max_tokens"`
	// BaseURL overrides the API endpoint
	BaseURL string `yaml:"base_url"`
}

// Validate checks the Gemini settings
func (c GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	return nil
}

// GeminiTranslator implements Translator using Google's Gemini API. The
// client is shared by every session.
type GeminiTranslator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	logger      *zap.Logger
}

var _ repositories.Translator = (*GeminiTranslator)(nil)

// NewGeminiTranslator creates the shared Gemini client
func NewGeminiTranslator(ctx context.Context, config GeminiConfig, httpClient *http.Client, logger *zap.Logger) (*GeminiTranslator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g := &GeminiTranslator{
		client:      client,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		logger:      logger,
	}
	if g.model == "" {
		g.model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", g.model))
	}
	if g.temperature == 0 {
		g.temperature = defaultGeminiTemperature
	}
	if g.maxTokens == 0 {
		g.maxTokens = defaultGeminiMaxTokens
	}
	return g, nil
}

func (g *GeminiTranslator) Name() string {
	return "gemini"
}

// Translate generates the translation of one segment
func (g *GeminiTranslator) Translate(ctx context.Context, request repositories.TranslationRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(request.TargetLanguage), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   g.maxTokens,
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(request.Text), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", ErrEmptyTranslation
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	translated := strings.TrimSpace(text.String())
	if translated == "" {
		return "", ErrEmptyTranslation
	}
	return translated, nil
}
