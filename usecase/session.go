package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/internal/metrics"
	"github.com/satriahrh/interpreter/internal/pipeline"
)

// Cancellation causes understood by the orchestrator
var (
	ErrClientDisconnected = errors.New("client disconnected")
	ErrServerShutdown     = errors.New("server shutting down")
	errDrainTimeout       = errors.New("drain timeout elapsed")
)

// CodeServerShutdown is sent when the server stops while a session is open
const CodeServerShutdown = "server_shutdown"

const finalPublishTimeout = 2 * time.Second

// Publisher delivers session events to the client
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SessionOrchestrator owns one connection's pipeline and lifecycle
type SessionOrchestrator struct {
	session *entities.Session
	config  SessionConfig
	out     Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger

	buffer        *pipeline.FrameBuffer
	transcription *pipeline.TranscriptionStage
	sequencer     *pipeline.Sequencer
	translation   *pipeline.TranslationStage
	synthesis     *pipeline.SynthesisStage
	reassembler   *pipeline.Reassembler

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelCauseFunc
	closeRequested bool
	drainTimer     *time.Timer
	utteranceOpen  bool
	droppedBytes   int
	lastDropNotice time.Time
}

// Session returns the session entity
func (o *SessionOrchestrator) Session() *entities.Session {
	return o.session
}

// Run drives the session until it is closed. It returns nil when the
// session ends normally, including client disconnects, and the aggregated
// stage failure otherwise. Cancelling ctx with ErrClientDisconnected or
// ErrServerShutdown as the cause ends the session immediately.
func (o *SessionOrchestrator) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	o.mu.Lock()
	o.ctx = ctx
	o.cancel = cancel
	o.mu.Unlock()

	o.metrics.SessionOpened()
	source, target := o.session.Languages()
	o.logger.Info("Session started", zap.String("source", source), zap.String("target", target))
	o.publishState(ctx)

	if err := o.transcription.Open(ctx); err != nil {
		return o.finish(ctx, err)
	}
	if err := o.transition(ctx, entities.SessionStateActive); err != nil {
		return o.finish(ctx, err)
	}

	o.mu.Lock()
	closing := o.closeRequested
	o.mu.Unlock()
	if closing {
		o.beginDrain()
	}

	return o.finish(ctx, o.runStages(ctx))
}

func (o *SessionOrchestrator) runStages(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var (
		failuresMu sync.Mutex
		failures   []error
	)
	run := func(stage string, fn func() error) {
		g.Go(func() error {
			err := fn()
			if err != nil && !errors.Is(err, context.Canceled) {
				var stageErr *domain.StageError
				if !errors.As(err, &stageErr) {
					err = &domain.StageError{Stage: stage, Err: err}
				}
				failuresMu.Lock()
				failures = append(failures, err)
				failuresMu.Unlock()
			}
			return err
		})
	}

	translated := make(chan entities.TranslatedSegment, o.config.QueueSize)
	toSynthesis := make(chan entities.TranslatedSegment, o.config.QueueSize)
	synthesized := make(chan entities.SynthesizedSegment, o.config.QueueSize)

	run(pipeline.StageBuffer, func() error { return o.buffer.Run(gctx) })
	run(pipeline.StageTranscription, func() error { return o.transcription.Run(gctx, o.buffer.Windows()) })
	run(pipeline.StageSequencer, func() error { return o.route(gctx) })
	run(pipeline.StageTranslation, func() error { return o.translation.Run(gctx, o.sequencer.Tasks(), translated) })
	run(pipeline.StageTranslation, func() error { return o.announce(gctx, translated, toSynthesis) })
	run(pipeline.StageSynthesis, func() error { return o.synthesis.Run(gctx, toSynthesis, synthesized) })
	run(pipeline.StageReassembly, func() error { return o.reassemble(gctx, synthesized) })

	err := g.Wait()
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	if err != nil {
		return err
	}

	assigned, cursor := o.sequencer.Assigned(), o.reassembler.Cursor()
	o.logger.Debug("Pipeline drained", zap.Uint64("assigned", assigned), zap.Uint64("cursor", cursor))
	if cursor != assigned {
		return fmt.Errorf("pipeline drained with cursor %d behind %d assigned", cursor, assigned)
	}
	return nil
}

// route publishes interim transcripts and sequences final ones
func (o *SessionOrchestrator) route(ctx context.Context) error {
	defer o.sequencer.Close()

	for segment := range o.transcription.Segments() {
		if !segment.Final {
			o.publish(ctx, domain.InterimTranscript{Text: segment.Text})
			continue
		}

		segment.Text = strings.TrimSpace(segment.Text)
		if segment.Text == "" {
			continue
		}

		task, err := o.sequencer.Assign(ctx, segment)
		if err != nil {
			return err
		}
		o.metrics.SegmentSequenced()
		o.logger.Debug("Segment sequenced", zap.Uint64("seq", task.Sequence), zap.String("text", task.Text))
		o.publish(ctx, domain.FinalTranscript{
			Sequence: task.Sequence,
			Text:     task.Text,
			Language: task.SourceLanguage,
		})
	}
	return nil
}

// announce publishes translated text as soon as it is ready and hands the
// segment on to synthesis
func (o *SessionOrchestrator) announce(ctx context.Context, in <-chan entities.TranslatedSegment, out chan<- entities.TranslatedSegment) error {
	defer close(out)

	for segment := range in {
		o.publish(ctx, domain.TranslationReady{
			Sequence: segment.Sequence,
			Text:     segment.Text,
			Source:   segment.SourceText,
			Language: segment.TargetLanguage,
			Degraded: segment.Degraded,
		})
		if segment.Degraded {
			o.notice(ctx, domain.NoticeTranslationDegraded, "translation unavailable, passing source text through", &segment.Sequence)
		}

		select {
		case out <- segment:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *SessionOrchestrator) reassemble(ctx context.Context, in <-chan entities.SynthesizedSegment) error {
	for segment := range in {
		// results completing after cancellation are discarded, not released
		if ctx.Err() != nil {
			continue
		}
		if segment.Degraded && len(segment.Audio) == 0 {
			o.notice(ctx, domain.NoticeSynthesisDegraded, "speech synthesis unavailable for this segment", &segment.Sequence)
		}
		if err := o.reassembler.Submit(segment); err != nil {
			o.logger.Error("Rejected synthesized segment", zap.Uint64("seq", segment.Sequence), zap.Error(err))
		}
	}
	return ctx.Err()
}

// release is called by the reassembler in sequence order
func (o *SessionOrchestrator) release(segment entities.SynthesizedSegment) {
	ctx := o.runContext()
	o.session.CompleteInFlight(segment.Sequence)
	if ctx.Err() != nil {
		return
	}
	o.metrics.SegmentReleased()
	o.publish(ctx, domain.SegmentAudio{
		Sequence:       segment.Sequence,
		Text:           segment.SourceText,
		Translation:    segment.Text,
		SourceLanguage: segment.SourceLanguage,
		Encoding:       segment.Encoding,
		Audio:          segment.Audio,
		Degraded:       segment.Degraded,
	})
}

func (o *SessionOrchestrator) backlogChanged(backlogged bool) {
	ctx := o.runContext()
	if backlogged {
		o.buffer.Pause()
		o.metrics.BacklogPaused()
		o.logger.Warn("Output backlogged, pausing audio ingestion", zap.Int("pending", o.config.BacklogLimit))
		o.notice(ctx, domain.NoticeBacklogged, "output backlogged, audio ingestion paused", nil)
		return
	}
	o.buffer.Resume()
	o.logger.Info("Output backlog cleared, resuming audio ingestion")
	o.notice(ctx, domain.NoticeBacklogCleared, "audio ingestion resumed", nil)
}

func (o *SessionOrchestrator) transcriptUnavailable(err error) {
	o.notice(o.runContext(), domain.NoticeTranscriptUnavailable, "transcription temporarily unavailable, reconnecting", nil)
}

func (o *SessionOrchestrator) transcriptRestored() {
	o.notice(o.runContext(), domain.NoticeTranscriptRestored, "transcription restored", nil)
}

// IngestAudio hands one inbound chunk to the frame buffer. Dropped audio is
// reported to the client as a throttled notice.
func (o *SessionOrchestrator) IngestAudio(chunk entities.AudioChunk) error {
	if err := o.requireOpen(); err != nil {
		return err
	}

	err := o.buffer.Ingest(chunk)
	if errors.Is(err, domain.ErrOverflow) {
		o.metrics.AudioDropped(len(chunk.Data))
		o.audioDropped(len(chunk.Data))
	}
	return err
}

func (o *SessionOrchestrator) audioDropped(bytes int) {
	o.mu.Lock()
	o.droppedBytes += bytes
	now := time.Now()
	if now.Sub(o.lastDropNotice) < o.config.OverflowNoticeInterval {
		o.mu.Unlock()
		return
	}
	dropped := o.droppedBytes
	o.droppedBytes = 0
	o.lastDropNotice = now
	o.mu.Unlock()

	o.logger.Warn("Audio buffer overflow, dropping audio", zap.Int("droppedBytes", dropped))
	o.publish(o.runContext(), domain.Notice{
		Code:    domain.NoticeAudioDropped,
		Message: "audio buffer full, audio dropped",
		Bytes:   dropped,
	})
}

// BeginUtterance marks the start of an utterance. An utterance that is
// still open is ended first.
func (o *SessionOrchestrator) BeginUtterance() error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	o.mu.Lock()
	wasOpen := o.utteranceOpen
	o.utteranceOpen = true
	o.mu.Unlock()

	if wasOpen {
		o.buffer.Flush()
	}
	return nil
}

// EndUtterance flushes buffered audio and asks the recognizer to finalize
func (o *SessionOrchestrator) EndUtterance() error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	o.mu.Lock()
	o.utteranceOpen = false
	o.mu.Unlock()

	o.buffer.Flush()
	return nil
}

// SetLanguagePair changes the language pair. Empty values keep the current
// language. Segments already sequenced keep the pair they were assigned with.
func (o *SessionOrchestrator) SetLanguagePair(source, target string) error {
	if source == "" && target == "" {
		return fmt.Errorf("%w: set_language_pair needs source or target", domain.ErrProtocolViolation)
	}
	if err := o.requireOpen(); err != nil {
		return err
	}

	previous, _ := o.session.Languages()
	o.session.SetLanguages(source, target)
	if source != "" && source != previous {
		o.transcription.SetLanguage(source)
	}

	newSource, newTarget := o.session.Languages()
	o.logger.Info("Language pair changed", zap.String("source", newSource), zap.String("target", newTarget))
	o.publishState(o.runContext())
	return nil
}

// Close starts a graceful close: ingestion stops, in-flight segments are
// flushed and the session closes once everything is released or the drain
// timeout elapses.
func (o *SessionOrchestrator) Close() {
	o.mu.Lock()
	o.closeRequested = true
	started := o.cancel != nil
	o.mu.Unlock()

	if started {
		o.beginDrain()
	}
}

func (o *SessionOrchestrator) beginDrain() {
	ctx := o.runContext()
	if err := o.transition(ctx, entities.SessionStateDraining); err != nil {
		// still connecting, Run starts the drain once active
		return
	}

	o.logger.Info("Draining session", zap.Uint64s("inFlight", o.session.InFlight()))
	o.buffer.Close()

	o.mu.Lock()
	cancel := o.cancel
	o.drainTimer = time.AfterFunc(o.config.DrainTimeout, func() {
		cancel(errDrainTimeout)
	})
	o.mu.Unlock()
}

// finish moves the session to its terminal state and reports the outcome
func (o *SessionOrchestrator) finish(ctx context.Context, runErr error) error {
	o.mu.Lock()
	if o.drainTimer != nil {
		o.drainTimer.Stop()
	}
	o.mu.Unlock()

	held := o.reassembler.Close()
	discarded := o.session.InFlight()
	for _, seq := range discarded {
		o.session.CompleteInFlight(seq)
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPublishTimeout)
	defer cancel()

	cause := context.Cause(ctx)
	var outcome error
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		outcome = runErr
	case errors.Is(cause, ErrServerShutdown):
		o.publish(publishCtx, domain.SessionError{Code: CodeServerShutdown, Message: "server is shutting down"})
	case errors.Is(cause, errDrainTimeout):
		o.logger.Warn("Drain timeout elapsed, discarding in-flight segments", zap.Uint64s("discarded", discarded))
	case errors.Is(cause, ErrClientDisconnected):
		o.logger.Info("Client disconnected", zap.Uint64s("discarded", discarded))
	}
	if len(held) > 0 {
		o.logger.Debug("Discarded held results", zap.Uint64s("held", held))
	}

	label := "closed"
	if outcome != nil {
		label = "errored"
		o.logger.Error("Session failed", zap.Error(outcome))
		if err := o.transition(publishCtx, entities.SessionStateErrored); err != nil {
			o.logger.Warn("Failed to mark session errored", zap.Error(err))
		}
		o.publish(publishCtx, domain.SessionError{
			Code:    domain.ErrorCode(outcome),
			Message: outcome.Error(),
		})
	}
	if err := o.transition(publishCtx, entities.SessionStateClosed); err != nil {
		o.logger.Warn("Failed to mark session closed", zap.Error(err))
	}

	o.metrics.SessionClosed(label, o.session.Duration())
	o.logger.Info("Session closed", zap.String("outcome", label), zap.Duration("duration", o.session.Duration()))
	return outcome
}

func (o *SessionOrchestrator) requireOpen() error {
	switch state := o.session.State(); state {
	case entities.SessionStateConnecting, entities.SessionStateActive:
		return nil
	default:
		return fmt.Errorf("session is %s: %w", state, domain.ErrSessionClosed)
	}
}

func (o *SessionOrchestrator) transition(ctx context.Context, to entities.SessionState) error {
	if err := o.session.Transition(to); err != nil {
		return err
	}
	o.logger.Debug("Session state changed", zap.String("state", string(to)))
	o.publishState(ctx)
	return nil
}

func (o *SessionOrchestrator) publishState(ctx context.Context) {
	source, target := o.session.Languages()
	o.publish(ctx, domain.StateChanged{
		SessionID:      o.session.ID,
		State:          o.session.State(),
		SourceLanguage: source,
		TargetLanguage: target,
	})
}

func (o *SessionOrchestrator) notice(ctx context.Context, code, message string, seq *uint64) {
	o.publish(ctx, domain.Notice{Code: code, Message: message, Sequence: seq})
}

func (o *SessionOrchestrator) publish(ctx context.Context, event domain.Event) {
	if err := o.out.Publish(ctx, event); err != nil {
		o.logger.Debug("Failed to publish event", zap.String("event", fmt.Sprintf("%T", event)), zap.Error(err))
	}
}

func (o *SessionOrchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}
