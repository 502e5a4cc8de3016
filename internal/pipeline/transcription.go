package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

var errStreamEnded = errors.New("recognition stream ended unexpectedly")

// TranscriptionConfig controls the recognition stream of one session
type TranscriptionConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
	// KeepAliveInterval is how long the stream may go without audio before
	// a keep-alive is sent
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	// ReplayBytes bounds the unacknowledged audio kept for replay after a
	// reconnect
	ReplayBytes int `yaml:"replay_bytes"`
}

// TranscriptionHooks are called from the stage goroutine when the
// recognizer connection drops and when it is restored
type TranscriptionHooks struct {
	OnUnavailable func(err error)
	OnRestored    func()
}

// TranscriptionStage streams audio windows to the speech-to-text
// collaborator and emits interim and final transcript segments
type TranscriptionStage struct {
	stt      repositories.SpeechToText
	config   TranscriptionConfig
	hooks    TranscriptionHooks
	observer Observer
	logger   *zap.Logger

	language  string
	languages chan string
	out       chan entities.TranscriptSegment

	stream      repositories.SpeechToTextStreaming
	unacked     [][]byte
	unackedSize int
	// reconnected is set after a reconnect and cleared by the next final
	// segment from the new stream, or once the new stream has stayed up for
	// a keep-alive interval
	reconnected   bool
	reconnectedAt time.Time
}

// NewTranscriptionStage creates a stage recognizing the given language
func NewTranscriptionStage(
	stt repositories.SpeechToText,
	language string,
	config TranscriptionConfig,
	hooks TranscriptionHooks,
	observer Observer,
	logger *zap.Logger,
) *TranscriptionStage {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Encoding == "" {
		config.Encoding = entities.EncodingLinear16
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 5 * time.Second
	}
	if config.ReplayBytes <= 0 {
		config.ReplayBytes = 1 << 20
	}
	if hooks.OnUnavailable == nil {
		hooks.OnUnavailable = func(error) {}
	}
	if hooks.OnRestored == nil {
		hooks.OnRestored = func() {}
	}
	if observer == nil {
		observer = NopObserver()
	}
	return &TranscriptionStage{
		stt:       stt,
		config:    config,
		hooks:     hooks,
		observer:  observer,
		logger:    logger,
		language:  language,
		languages: make(chan string, 1),
		out:       make(chan entities.TranscriptSegment, 16),
	}
}

// Segments returns the transcript output. It is closed when Run returns.
func (s *TranscriptionStage) Segments() <-chan entities.TranscriptSegment {
	return s.out
}

// Open opens the recognition stream. It must succeed before Run is called.
func (s *TranscriptionStage) Open(ctx context.Context) error {
	stream, err := s.openStream(ctx)
	if err != nil {
		return &domain.StageError{Stage: StageTranscription, Err: err}
	}
	s.stream = stream
	return nil
}

// SetLanguage switches recognition to language. The current stream is
// finalized and drained before a new one is opened.
func (s *TranscriptionStage) SetLanguage(language string) {
	select {
	case <-s.languages:
	default:
	}
	s.languages <- language
}

// Run streams windows from in until in is closed and the recognizer has
// flushed its last results, or until ctx is cancelled. A dropped recognizer
// connection is reconnected once, replaying audio not yet covered by a final
// segment; a second drop before the next final, or within a keep-alive
// interval of the reconnect, fails the stage.
func (s *TranscriptionStage) Run(ctx context.Context, in <-chan entities.AudioWindow) error {
	defer close(s.out)
	if s.stream == nil {
		return &domain.StageError{Stage: StageTranscription, Err: errors.New("stream not opened")}
	}
	defer func() {
		_ = s.stream.Close()
	}()

	ticker := time.NewTicker(s.config.KeepAliveInterval / 2)
	defer ticker.Stop()
	lastSent := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case window, ok := <-in:
			if !ok {
				return s.drain(ctx)
			}
			if err := s.send(ctx, window); err != nil {
				return err
			}
			lastSent = time.Now()

		case segment, ok := <-s.stream.Results():
			if !ok {
				cause := s.stream.Err()
				if cause == nil {
					cause = errStreamEnded
				}
				if err := s.recover(ctx, cause); err != nil {
					return err
				}
				lastSent = time.Now()
				continue
			}
			if err := s.emit(ctx, segment); err != nil {
				return err
			}

		case now := <-ticker.C:
			if s.reconnected && now.Sub(s.reconnectedAt) >= s.config.KeepAliveInterval {
				s.reconnected = false
			}
			if now.Sub(lastSent) < s.config.KeepAliveInterval {
				continue
			}
			if err := s.stream.KeepAlive(); err != nil {
				if err := s.recover(ctx, err); err != nil {
					return err
				}
			}
			lastSent = now

		case language := <-s.languages:
			if err := s.switchLanguage(ctx, language); err != nil {
				return err
			}
			lastSent = time.Now()
		}
	}
}

func (s *TranscriptionStage) send(ctx context.Context, window entities.AudioWindow) error {
	if len(window.Data) > 0 {
		s.remember(window.Data)
		if err := s.stream.Stream(window.Data); err != nil {
			// the window is already remembered and will be replayed
			if err := s.recover(ctx, err); err != nil {
				return err
			}
		}
	}
	if window.EndOfUtterance {
		if err := s.stream.Finalize(); err != nil {
			if err := s.recover(ctx, err); err != nil {
				return err
			}
			return s.stream.Finalize()
		}
	}
	return nil
}

func (s *TranscriptionStage) emit(ctx context.Context, segment entities.TranscriptSegment) error {
	if segment.Final {
		s.unacked = nil
		s.unackedSize = 0
		s.reconnected = false
	}
	select {
	case s.out <- segment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TranscriptionStage) remember(data []byte) {
	s.unacked = append(s.unacked, data)
	s.unackedSize += len(data)
	for s.unackedSize > s.config.ReplayBytes && len(s.unacked) > 1 {
		s.unackedSize -= len(s.unacked[0])
		s.unacked = s.unacked[1:]
	}
}

// recover replaces a dropped stream and replays unacknowledged audio
func (s *TranscriptionStage) recover(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	provider := s.stt.Name()
	cause = domain.ClassifyCallError(provider, cause)
	if s.reconnected {
		return &domain.StageError{Stage: StageTranscription, Err: fmt.Errorf("dropped again after reconnect: %w", cause)}
	}

	s.logger.Warn("Recognition stream dropped, reconnecting",
		zap.String("provider", provider),
		zap.Int("replayBytes", s.unackedSize),
		zap.Error(cause))
	s.hooks.OnUnavailable(cause)
	_ = s.stream.Close()

	stream, err := s.openStream(ctx)
	if err != nil {
		return &domain.StageError{Stage: StageTranscription, Err: errors.Join(cause, err)}
	}
	s.stream = stream
	s.reconnected = true
	s.reconnectedAt = time.Now()
	s.observer.Reconnected(provider)

	for _, data := range s.unacked {
		if err := stream.Stream(data); err != nil {
			return &domain.StageError{Stage: StageTranscription, Err: domain.Unavailable(provider, fmt.Errorf("replay: %w", err))}
		}
	}

	s.logger.Info("Recognition stream restored", zap.String("provider", provider))
	s.hooks.OnRestored()
	return nil
}

// switchLanguage finalizes the current stream, forwards its remaining
// results and opens a stream for the new language
func (s *TranscriptionStage) switchLanguage(ctx context.Context, language string) error {
	if language == "" || language == s.language {
		return nil
	}
	s.logger.Info("Switching recognition language", zap.String("from", s.language), zap.String("to", language))

	if err := s.finish(ctx); err != nil {
		return err
	}
	_ = s.stream.Close()

	s.language = language
	s.unacked = nil
	s.unackedSize = 0

	stream, err := s.openStream(ctx)
	if err != nil {
		return &domain.StageError{Stage: StageTranscription, Err: err}
	}
	s.stream = stream
	return nil
}

// drain flushes the stream once no more audio will arrive
func (s *TranscriptionStage) drain(ctx context.Context) error {
	if err := s.finish(ctx); err != nil {
		return err
	}
	s.logger.Debug("Recognition stream drained")
	return nil
}

// finish asks the recognizer for its last results and forwards them until
// the stream ends. A failure at this point loses only those results.
func (s *TranscriptionStage) finish(ctx context.Context) error {
	if err := s.stream.Finalize(); err != nil {
		s.logger.Warn("Failed to finalize recognition stream", zap.Error(err))
	}
	if err := s.stream.CloseSend(); err != nil {
		s.logger.Warn("Failed to close recognition stream", zap.Error(err))
		return nil
	}

	for {
		select {
		case segment, ok := <-s.stream.Results():
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.logger.Warn("Recognition stream ended with error", zap.Error(err))
				}
				return nil
			}
			if err := s.emit(ctx, segment); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *TranscriptionStage) openStream(ctx context.Context) (repositories.SpeechToTextStreaming, error) {
	stream, err := s.stt.OpenStream(ctx, repositories.AudioConfig{
		SampleRate: s.config.SampleRate,
		Encoding:   s.config.Encoding,
		Language:   s.language,
	})
	if err != nil {
		return nil, domain.ClassifyCallError(s.stt.Name(), fmt.Errorf("open stream: %w", err))
	}
	return stream, nil
}
