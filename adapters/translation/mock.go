package translation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/repositories"
)

// MockTranslator tags text with the target language for local development
type MockTranslator struct {
	logger *zap.Logger
}

// NewMockTranslator creates a new mock translator
func NewMockTranslator(logger *zap.Logger) *MockTranslator {
	return &MockTranslator{logger: logger}
}

var _ repositories.Translator = (*MockTranslator)(nil)

func (m *MockTranslator) Name() string {
	return "mock"
}

// Translate implements repositories.Translator
func (m *MockTranslator) Translate(ctx context.Context, request repositories.TranslationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.logger.Debug("Mock translation",
		zap.String("source", request.SourceLanguage),
		zap.String("target", request.TargetLanguage))
	return fmt.Sprintf("[%s] %s", LanguageName(request.TargetLanguage), request.Text), nil
}
