package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

// StageConfig controls one fan-out stage
type StageConfig struct {
	// Concurrency bounds simultaneous collaborator calls for one session
	Concurrency int         `yaml:"concurrency"`
	Retry       RetryPolicy `yaml:"retry"`
}

func (c StageConfig) limit() int {
	if c.Concurrency <= 0 {
		return 4
	}
	return c.Concurrency
}

// fanOut processes items from in with at most limit concurrent calls to
// process. Results are sent on out in completion order; items whose process
// call reports !ok are discarded. out is closed when every started item has
// finished.
func fanOut[In, Out any](
	ctx context.Context,
	limit int,
	in <-chan In,
	out chan<- Out,
	process func(ctx context.Context, item In) (Out, bool),
) error {
	defer close(out)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for {
		var item In
		var ok bool
		select {
		case item, ok = <-in:
		case <-gctx.Done():
			_ = g.Wait()
			return ctx.Err()
		}
		if !ok {
			break
		}

		g.Go(func() error {
			result, ok := process(gctx, item)
			if !ok {
				return nil
			}
			select {
			case out <- result:
			case <-gctx.Done():
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// TranslationStage turns sequenced tasks into translated segments
type TranslationStage struct {
	translator repositories.Translator
	config     StageConfig
	observer   Observer
	logger     *zap.Logger
}

// NewTranslationStage creates a translation stage
func NewTranslationStage(translator repositories.Translator, config StageConfig, observer Observer, logger *zap.Logger) *TranslationStage {
	if observer == nil {
		observer = NopObserver()
	}
	return &TranslationStage{
		translator: translator,
		config:     config,
		observer:   observer,
		logger:     logger,
	}
}

// Run translates every task from in until in is closed or ctx is cancelled.
// Segments are emitted in completion order.
func (s *TranslationStage) Run(ctx context.Context, in <-chan entities.TranslationTask, out chan<- entities.TranslatedSegment) error {
	return fanOut(ctx, s.config.limit(), in, out, s.Translate)
}

// Translate translates one task. It never fails: after the retry budget is
// spent the segment is degraded and carries the source text. ok is false
// when ctx was cancelled and the result must be discarded.
func (s *TranslationStage) Translate(ctx context.Context, task entities.TranslationTask) (entities.TranslatedSegment, bool) {
	provider := s.translator.Name()
	logger := s.logger.With(zap.Uint64("seq", task.Sequence), zap.String("provider", provider))

	segment := entities.TranslatedSegment{
		Sequence:       task.Sequence,
		SourceText:     task.Text,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
	}

	request := repositories.TranslationRequest{
		Text:           task.Text,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
	}
	onRetry := func(err error, wait time.Duration) {
		s.observer.Retried(StageTranslation, provider)
		logger.Warn("Translation failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	text, err := callWithRetry(ctx, s.config.Retry, provider, onRetry, func(ctx context.Context) (string, error) {
		start := time.Now()
		text, err := s.translator.Translate(ctx, request)
		s.observer.CallFinished(StageTranslation, provider, time.Since(start), classifyAttempt(ctx, provider, err))
		return text, err
	})
	if ctx.Err() != nil {
		logger.Debug("Translation cancelled, discarding result")
		return segment, false
	}
	if err != nil {
		s.observer.Degraded(StageTranslation)
		logger.Warn("Translation degraded, passing source text through", zap.Error(err))
		segment.Text = task.Text
		segment.Degraded = true
		return segment, true
	}

	segment.Text = text
	return segment, true
}

// SynthesisStage turns translated segments into audio
type SynthesisStage struct {
	tts      repositories.TextToSpeech
	voices   map[string]string
	config   StageConfig
	observer Observer
	logger   *zap.Logger
}

// NewSynthesisStage creates a synthesis stage. voices maps a target language
// to a provider voice; unmapped languages use the provider default.
func NewSynthesisStage(tts repositories.TextToSpeech, voices map[string]string, config StageConfig, observer Observer, logger *zap.Logger) *SynthesisStage {
	if observer == nil {
		observer = NopObserver()
	}
	return &SynthesisStage{
		tts:      tts,
		voices:   voices,
		config:   config,
		observer: observer,
		logger:   logger,
	}
}

// Run synthesizes every segment from in until in is closed or ctx is
// cancelled. Segments are emitted in completion order.
func (s *SynthesisStage) Run(ctx context.Context, in <-chan entities.TranslatedSegment, out chan<- entities.SynthesizedSegment) error {
	return fanOut(ctx, s.config.limit(), in, out, s.Synthesize)
}

// Synthesize renders one translated segment. A degraded translation is
// spoken as-is. After the retry budget is spent the result is degraded with
// an empty payload so the sequence still advances.
func (s *SynthesisStage) Synthesize(ctx context.Context, translated entities.TranslatedSegment) (entities.SynthesizedSegment, bool) {
	provider := s.tts.Name()
	logger := s.logger.With(zap.Uint64("seq", translated.Sequence), zap.String("provider", provider))

	segment := entities.SynthesizedSegment{
		Sequence:       translated.Sequence,
		SourceText:     translated.SourceText,
		Text:           translated.Text,
		SourceLanguage: translated.SourceLanguage,
		Degraded:       translated.Degraded,
	}

	request := repositories.SynthesisRequest{
		Text:     translated.Text,
		Language: translated.TargetLanguage,
		Voice:    s.voices[translated.TargetLanguage],
	}
	onRetry := func(err error, wait time.Duration) {
		s.observer.Retried(StageSynthesis, provider)
		logger.Warn("Synthesis failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	result, err := callWithRetry(ctx, s.config.Retry, provider, onRetry, func(ctx context.Context) (repositories.SynthesisResult, error) {
		start := time.Now()
		result, err := s.tts.Synthesize(ctx, request)
		s.observer.CallFinished(StageSynthesis, provider, time.Since(start), classifyAttempt(ctx, provider, err))
		return result, err
	})
	if ctx.Err() != nil {
		logger.Debug("Synthesis cancelled, discarding result")
		return segment, false
	}
	if err != nil {
		s.observer.Degraded(StageSynthesis)
		logger.Warn("Synthesis degraded, releasing empty audio", zap.Error(err))
		segment.Degraded = true
		return segment, true
	}

	segment.Audio = result.Audio
	segment.Encoding = result.Encoding
	return segment, true
}
