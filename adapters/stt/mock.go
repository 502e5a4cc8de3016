package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

// mockPhrases are the canned transcripts per language, picked by how much
// audio the utterance carried
var mockPhrases = map[string][]string{
	"es": {"Hola.", "¿Cómo estás?", "Gracias por escuchar.", "Hoy quiero contarte algo sobre mi día."},
	"en": {"Hello.", "How are you?", "Thanks for listening.", "Today I want to tell you about my day."},
	"fr": {"Bonjour.", "Comment ça va ?", "Merci de m'écouter.", "Aujourd'hui je veux te raconter ma journée."},
}

// MockSpeechToText produces canned transcripts for local development
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

func (s *MockSpeechToText) Name() string {
	return "mock"
}

// OpenStream creates a new mock streaming session
func (s *MockSpeechToText) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	phrases, ok := mockPhrases[config.Language]
	if !ok {
		phrases = mockPhrases["en"]
	}
	return &mockStream{
		phrases: phrases,
		results: make(chan entities.TranscriptSegment, 64),
		logger:  s.logger,
	}, nil
}

type mockStream struct {
	mu       sync.Mutex
	phrases  []string
	buffered int
	closed   bool
	results  chan entities.TranscriptSegment
	logger   *zap.Logger
}

// phrase picks a transcript by utterance size
func (m *mockStream) phrase() string {
	switch {
	case m.buffered > 64000:
		return m.phrases[3]
	case m.buffered > 32000:
		return m.phrases[2]
	case m.buffered > 8000:
		return m.phrases[1]
	default:
		return m.phrases[0]
	}
}

// emit never blocks; the stage reads results on the goroutine that feeds
// the stream
func (m *mockStream) emit(segment entities.TranscriptSegment) {
	select {
	case m.results <- segment:
	default:
		m.logger.Warn("Mock transcript dropped", zap.String("text", segment.Text))
	}
}

func (m *mockStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(data) == 0 {
		return nil
	}

	before := m.buffered
	m.buffered += len(data)
	// One interim result per second of 16kHz linear16 audio
	if m.buffered/32000 > before/32000 {
		m.emit(entities.TranscriptSegment{Text: m.phrase()})
	}
	return nil
}

func (m *mockStream) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeLocked()
	return nil
}

func (m *mockStream) finalizeLocked() {
	if m.closed || m.buffered == 0 {
		return
	}
	text := m.phrase()
	m.logger.Info("Mock transcription result", zap.String("text", text), zap.Int("bytes", m.buffered))
	m.emit(entities.TranscriptSegment{Text: text, Final: true})
	m.buffered = 0
}

func (m *mockStream) KeepAlive() error {
	return nil
}

func (m *mockStream) CloseSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeLocked()
	m.closeLocked()
	return nil
}

func (m *mockStream) Results() <-chan entities.TranscriptSegment {
	return m.results
}

func (m *mockStream) Err() error {
	return nil
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *mockStream) closeLocked() {
	if !m.closed {
		m.closed = true
		close(m.results)
	}
}
