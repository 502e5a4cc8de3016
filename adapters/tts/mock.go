package tts

import (
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

// MockTextToSpeech returns silent linear PCM sized to the text, for local
// development without a provider
type MockTextToSpeech struct {
	sampleRate int
	logger     *zap.Logger
}

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(sampleRate int, logger *zap.Logger) *MockTextToSpeech {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MockTextToSpeech{sampleRate: sampleRate, logger: logger}
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

func (m *MockTextToSpeech) Name() string {
	return "mock"
}

// Synthesize implements repositories.TextToSpeech. Each character lasts
// 50ms; a short tone marks the start of the segment.
func (m *MockTextToSpeech) Synthesize(ctx context.Context, request repositories.SynthesisRequest) (repositories.SynthesisResult, error) {
	if err := ctx.Err(); err != nil {
		return repositories.SynthesisResult{}, err
	}

	samples := len([]rune(request.Text)) * m.sampleRate / 20
	audio := make([]byte, samples*2)
	for i := 0; i < samples && i < m.sampleRate/50; i++ {
		value := int16(4000)
		if (i/8)%2 == 1 {
			value = -value
		}
		binary.LittleEndian.PutUint16(audio[i*2:], uint16(value))
	}

	m.logger.Debug("Mock synthesis",
		zap.String("language", request.Language),
		zap.Int("bytes", len(audio)))
	return repositories.SynthesisResult{Audio: audio, Encoding: entities.EncodingPCM}, nil
}
