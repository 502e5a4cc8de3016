package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
	"github.com/satriahrh/interpreter/internal/metrics"
	"github.com/satriahrh/interpreter/internal/pipeline"
)

// SessionConfig holds the per-session pipeline settings
type SessionConfig struct {
	Buffer        pipeline.BufferConfig        `yaml:"buffer"`
	Transcription pipeline.TranscriptionConfig `yaml:"transcription"`
	Translation   pipeline.StageConfig         `yaml:"translation"`
	Synthesis     pipeline.StageConfig         `yaml:"synthesis"`

	// BacklogLimit is the pending count at which ingestion pauses
	BacklogLimit int           `yaml:"backlog_limit"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	// QueueSize bounds the channels between stages
	QueueSize int `yaml:"queue_size"`
	// OverflowNoticeInterval throttles dropped-audio notices
	OverflowNoticeInterval time.Duration `yaml:"overflow_notice_interval"`

	// Voices maps a target language to a synthesis voice
	Voices map[string]string `yaml:"voices"`
}

// DefaultSessionConfig returns the settings used when nothing is configured
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Buffer: pipeline.BufferConfig{
			WindowBytes:      3200,
			MaxWindowDelay:   100 * time.Millisecond,
			MaxBufferedBytes: 512 * 1024,
		},
		Transcription: pipeline.TranscriptionConfig{
			SampleRate:        16000,
			Encoding:          entities.EncodingLinear16,
			KeepAliveInterval: 5 * time.Second,
			ReplayBytes:       1 << 20,
		},
		Translation: pipeline.StageConfig{
			Concurrency: 4,
			Retry:       pipeline.DefaultRetryPolicy(),
		},
		Synthesis: pipeline.StageConfig{
			Concurrency: 4,
			Retry:       pipeline.DefaultRetryPolicy(),
		},
		BacklogLimit:           16,
		DrainTimeout:           10 * time.Second,
		QueueSize:              32,
		OverflowNoticeInterval: time.Second,
	}
}

// InterpreterService holds the process-wide collaborators and creates one
// orchestrator per connection
type InterpreterService struct {
	stt        repositories.SpeechToText
	translator repositories.Translator
	tts        repositories.TextToSpeech
	config     SessionConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewInterpreterService creates a new interpreter service
func NewInterpreterService(
	stt repositories.SpeechToText,
	translator repositories.Translator,
	tts repositories.TextToSpeech,
	config SessionConfig,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *InterpreterService {
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 10 * time.Second
	}
	if config.OverflowNoticeInterval <= 0 {
		config.OverflowNoticeInterval = time.Second
	}
	return &InterpreterService{
		stt:        stt,
		translator: translator,
		tts:        tts,
		config:     config,
		metrics:    metrics,
		logger:     logger,
	}
}

// NewSession builds the pipeline for one connection. Nothing runs until
// Run is called on the returned orchestrator.
func (s *InterpreterService) NewSession(sourceLanguage, targetLanguage string, out Publisher) *SessionOrchestrator {
	session := entities.NewSession(sourceLanguage, targetLanguage)
	logger := s.logger.With(zap.String("sessionID", session.ID))

	o := &SessionOrchestrator{
		session: session,
		config:  s.config,
		out:     out,
		metrics: s.metrics,
		logger:  logger,
	}

	o.buffer = pipeline.NewFrameBuffer(s.config.Buffer, logger.Named("buffer"))
	o.transcription = pipeline.NewTranscriptionStage(
		s.stt,
		sourceLanguage,
		s.config.Transcription,
		pipeline.TranscriptionHooks{
			OnUnavailable: o.transcriptUnavailable,
			OnRestored:    o.transcriptRestored,
		},
		s.metrics,
		logger.Named("transcription"),
	)
	o.sequencer = pipeline.NewSequencer(session, s.config.QueueSize)
	o.translation = pipeline.NewTranslationStage(s.translator, s.config.Translation, s.metrics, logger.Named("translation"))
	o.synthesis = pipeline.NewSynthesisStage(s.tts, s.config.Voices, s.config.Synthesis, s.metrics, logger.Named("synthesis"))
	o.reassembler = pipeline.NewReassembler(s.config.BacklogLimit, o.release, o.backlogChanged)

	return o
}
