package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/repositories"
)

const (
	defaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	defaultGroqModel       = "llama-3.3-70b-versatile"
	defaultGroqTemperature = 0.3
	defaultGroqMaxTokens   = 1024
)

// ErrEmptyTranslation is returned when the provider answers without text
var ErrEmptyTranslation = errors.New("empty translation")

// GroqConfig holds configuration for the Groq chat completions adapter
type GroqConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Validate checks the Groq settings
func (c GroqConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("groq API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	return nil
}

// GroqTranslator implements Translator with an OpenAI-compatible chat
// completions endpoint
type GroqTranslator struct {
	config GroqConfig
	client *http.Client
	logger *zap.Logger
}

var _ repositories.Translator = (*GroqTranslator)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewGroqTranslator creates a Groq translator on the shared HTTP client
func NewGroqTranslator(config GroqConfig, client *http.Client, logger *zap.Logger) (*GroqTranslator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultGroqBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultGroqModel
	}
	if config.Temperature == 0 {
		config.Temperature = defaultGroqTemperature
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultGroqMaxTokens
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GroqTranslator{config: config, client: client, logger: logger}, nil
}

func (g *GroqTranslator) Name() string {
	return "groq"
}

// Translate sends one segment as a user message under the interpreter prompt
func (g *GroqTranslator) Translate(ctx context.Context, request repositories.TranslationRequest) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(request.TargetLanguage)},
			{Role: "user", Content: request.Text},
		},
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("groq API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyTranslation
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyTranslation
	}

	g.logger.Debug("Translated segment",
		zap.String("source", request.SourceLanguage),
		zap.String("target", request.TargetLanguage),
		zap.Int("chars", len(text)))
	return text, nil
}
