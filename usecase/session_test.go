package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/internal/metrics"
	"github.com/satriahrh/interpreter/internal/pipeline"
	"github.com/satriahrh/interpreter/internal/pipeline/pipelinetest"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) audio() []domain.SegmentAudio {
	var out []domain.SegmentAudio
	for _, e := range r.snapshot() {
		if a, ok := e.(domain.SegmentAudio); ok {
			out = append(out, a)
		}
	}
	return out
}

func (r *recorder) translations() []domain.TranslationReady {
	var out []domain.TranslationReady
	for _, e := range r.snapshot() {
		if tr, ok := e.(domain.TranslationReady); ok {
			out = append(out, tr)
		}
	}
	return out
}

func (r *recorder) states() []entities.SessionState {
	var out []entities.SessionState
	for _, e := range r.snapshot() {
		if s, ok := e.(domain.StateChanged); ok {
			out = append(out, s.State)
		}
	}
	return out
}

func (r *recorder) notices(code string) []domain.Notice {
	var out []domain.Notice
	for _, e := range r.snapshot() {
		if n, ok := e.(domain.Notice); ok && n.Code == code {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) sessionErrors() []domain.SessionError {
	var out []domain.SessionError
	for _, e := range r.snapshot() {
		if se, ok := e.(domain.SessionError); ok {
			out = append(out, se)
		}
	}
	return out
}

func audioSequences(audio []domain.SegmentAudio) []uint64 {
	seqs := make([]uint64, 0, len(audio))
	for _, a := range audio {
		seqs = append(seqs, a.Sequence)
	}
	return seqs
}

func testSessionConfig() SessionConfig {
	config := DefaultSessionConfig()
	retry := pipeline.RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      2,
		Timeout:         100 * time.Millisecond,
	}
	config.Translation.Retry = retry
	config.Synthesis.Retry = retry
	config.Transcription.KeepAliveInterval = time.Hour
	config.DrainTimeout = 2 * time.Second
	return config
}

type sessionHarness struct {
	stt          *pipelinetest.STT
	translator   pipelinetest.Translator
	tts          pipelinetest.TTS
	out          *recorder
	orchestrator *SessionOrchestrator
	cancel       context.CancelCauseFunc
	done         chan error
}

func newSessionHarness(t *testing.T, config SessionConfig) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		stt:        pipelinetest.NewSTT(),
		translator: pipelinetest.NewTranslator(),
		tts:        pipelinetest.NewTTS(),
		out:        &recorder{},
		done:       make(chan error, 1),
	}
	service := NewInterpreterService(h.stt, h.translator, h.tts, config, metrics.New(prometheus.NewRegistry()), zaptest.NewLogger(t))
	h.orchestrator = service.NewSession("es", "en", h.out)
	return h
}

func (h *sessionHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancelCause(context.Background())
	h.cancel = cancel
	t.Cleanup(func() { cancel(nil) })
	go func() { h.done <- h.orchestrator.Run(ctx) }()
}

// startActive runs the session and returns the recognition stream once the
// session is active
func (h *sessionHarness) startActive(t *testing.T) *pipelinetest.Stream {
	t.Helper()
	h.start(t)
	stream := h.nextStream(t)
	require.Eventually(t, func() bool {
		return h.orchestrator.Session().State() == entities.SessionStateActive
	}, time.Second, 5*time.Millisecond)
	return stream
}

func (h *sessionHarness) nextStream(t *testing.T) *pipelinetest.Stream {
	t.Helper()
	select {
	case s := <-h.stt.Opened:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for recognition stream")
		return nil
	}
}

func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func pushFinals(stream *pipelinetest.Stream, texts ...string) {
	for _, text := range texts {
		stream.Push(entities.TranscriptSegment{Text: text, Final: true})
	}
}

func TestSessionRoundTrip(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	stream := h.startActive(t)

	stream.Push(entities.TranscriptSegment{Text: "un"})
	pushFinals(stream, "uno", "dos", "tres")

	require.Eventually(t, func() bool { return len(h.out.audio()) == 3 }, 2*time.Second, 5*time.Millisecond)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))

	audio := h.out.audio()
	assert.Equal(t, []uint64{0, 1, 2}, audioSequences(audio))
	for i, text := range []string{"uno", "dos", "tres"} {
		assert.Equal(t, text, audio[i].Text)
		assert.Equal(t, "[en] "+text, audio[i].Translation)
		assert.Equal(t, []byte("[en] "+text), audio[i].Audio)
		assert.Equal(t, "es", audio[i].SourceLanguage)
		assert.False(t, audio[i].Degraded)
	}

	events := h.out.snapshot()
	var interim, finals int
	for _, e := range events {
		switch ev := e.(type) {
		case domain.InterimTranscript:
			interim++
		case domain.FinalTranscript:
			assert.Equal(t, uint64(finals), ev.Sequence)
			finals++
		}
	}
	assert.Equal(t, 1, interim)
	assert.Equal(t, 3, finals)

	assert.Equal(t, []entities.SessionState{
		entities.SessionStateConnecting,
		entities.SessionStateActive,
		entities.SessionStateDraining,
		entities.SessionStateClosed,
	}, h.out.states())
	assert.Empty(t, h.orchestrator.Session().InFlight())
	assert.Empty(t, h.out.sessionErrors())
}

func TestSessionSkipsEmptyFinals(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	stream := h.startActive(t)

	pushFinals(stream, "uno", "   ", "dos")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 2 }, 2*time.Second, 5*time.Millisecond)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))
	assert.Equal(t, []uint64{0, 1}, audioSequences(h.out.audio()))
}

func TestSessionDegradedTranslationKeepsOrder(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	h.translator.On("dos", pipelinetest.Call{Hang: true}, pipelinetest.Call{Hang: true})
	stream := h.startActive(t)

	pushFinals(stream, "uno", "dos", "tres")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 3 }, 2*time.Second, 5*time.Millisecond)

	audio := h.out.audio()
	assert.Equal(t, []uint64{0, 1, 2}, audioSequences(audio))
	assert.False(t, audio[0].Degraded)
	assert.True(t, audio[1].Degraded)
	assert.Equal(t, "dos", audio[1].Translation, "degraded segment carries the source text")
	assert.False(t, audio[2].Degraded)
	assert.Equal(t, 2, h.translator.Count("dos"))

	// translation of 2 is announced before the degraded 1
	var announced []uint64
	for _, tr := range h.out.translations() {
		announced = append(announced, tr.Sequence)
	}
	assert.Less(t, indexOf(announced, 2), indexOf(announced, 1))

	notices := h.out.notices(domain.NoticeTranslationDegraded)
	require.Len(t, notices, 1)
	require.NotNil(t, notices[0].Sequence)
	assert.Equal(t, uint64(1), *notices[0].Sequence)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))
}

func indexOf(seqs []uint64, seq uint64) int {
	for i, s := range seqs {
		if s == seq {
			return i
		}
	}
	return -1
}

func TestSessionDegradedSynthesisAdvancesSequence(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	h.tts.On("[en] uno", pipelinetest.Call{Err: pipelinetest.ErrBoom}, pipelinetest.Call{Err: pipelinetest.ErrBoom})
	stream := h.startActive(t)

	pushFinals(stream, "uno", "dos")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 2 }, 2*time.Second, 5*time.Millisecond)

	audio := h.out.audio()
	assert.True(t, audio[0].Degraded)
	assert.Empty(t, audio[0].Audio)
	assert.Equal(t, []byte("[en] dos"), audio[1].Audio)
	assert.Len(t, h.out.notices(domain.NoticeSynthesisDegraded), 1)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))
}

func TestSessionDisconnectCancelsInFlight(t *testing.T) {
	config := testSessionConfig()
	config.Translation.Retry.Timeout = time.Minute
	h := newSessionHarness(t, config)
	h.translator.On("tres", pipelinetest.Call{Hang: true})
	stream := h.startActive(t)

	pushFinals(stream, "uno", "dos", "tres")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.translator.Count("tres") == 1 }, time.Second, 5*time.Millisecond)

	h.cancel(ErrClientDisconnected)
	require.NoError(t, h.wait(t))

	assert.Eventually(t, func() bool { return h.translator.Cancelled("tres") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.translator.Count("tres"), "cancelled calls are not retried")
	assert.Equal(t, []uint64{0, 1}, audioSequences(h.out.audio()), "no audio released for the cancelled segment")
	assert.Equal(t, entities.SessionStateClosed, h.orchestrator.Session().State())
	assert.Empty(t, h.out.sessionErrors())
	assert.Empty(t, h.orchestrator.Session().InFlight())
}

func TestSessionBacklogPausesIngestion(t *testing.T) {
	config := testSessionConfig()
	config.BacklogLimit = 2
	config.Translation.Retry.Timeout = time.Second
	h := newSessionHarness(t, config)
	h.translator.On("uno", pipelinetest.Call{Delay: 300 * time.Millisecond})
	stream := h.startActive(t)

	pushFinals(stream, "uno", "dos", "tres")

	require.Eventually(t, func() bool {
		return len(h.out.notices(domain.NoticeBacklogged)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.orchestrator.buffer.Paused(), "ingestion pauses while backlogged")
	assert.Empty(t, h.out.audio())

	require.Eventually(t, func() bool { return len(h.out.audio()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.out.notices(domain.NoticeBacklogCleared), 1)
	assert.False(t, h.orchestrator.buffer.Paused(), "ingestion resumes once the backlog clears")
	assert.Equal(t, []uint64{0, 1, 2}, audioSequences(h.out.audio()))

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))
}

func TestSessionTranscriptionFailureErrorsSession(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	first := h.startActive(t)

	first.End(pipelinetest.ErrBoom)
	h.nextStream(t).End(pipelinetest.ErrBoom)

	err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	assert.Len(t, h.out.notices(domain.NoticeTranscriptUnavailable), 1)
	errs := h.out.sessionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.CodeCollaboratorUnavailable, errs[0].Code)

	states := h.out.states()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []entities.SessionState{entities.SessionStateErrored, entities.SessionStateClosed}, states[len(states)-2:])
}

func TestSessionOpenFailure(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	h.stt.FailOpen(0, pipelinetest.ErrBoom)
	h.start(t)

	err := h.wait(t)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.Equal(t, []entities.SessionState{
		entities.SessionStateConnecting,
		entities.SessionStateErrored,
		entities.SessionStateClosed,
	}, h.out.states())
}

func TestSessionServerShutdown(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	h.startActive(t)

	h.cancel(ErrServerShutdown)
	require.NoError(t, h.wait(t))

	errs := h.out.sessionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeServerShutdown, errs[0].Code)
	assert.Equal(t, entities.SessionStateClosed, h.orchestrator.Session().State())
}

func TestSessionDrainTimeout(t *testing.T) {
	config := testSessionConfig()
	config.DrainTimeout = 50 * time.Millisecond
	config.Translation.Retry.Timeout = time.Minute
	h := newSessionHarness(t, config)
	h.translator.On("uno", pipelinetest.Call{Hang: true})
	stream := h.startActive(t)

	pushFinals(stream, "uno")
	require.Eventually(t, func() bool {
		return len(h.orchestrator.Session().InFlight()) == 1
	}, time.Second, 5*time.Millisecond)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))

	assert.Empty(t, h.out.audio())
	assert.Eventually(t, func() bool { return h.translator.Cancelled("uno") == 1 }, time.Second, 5*time.Millisecond)
	states := h.out.states()
	assert.Equal(t, []entities.SessionState{entities.SessionStateDraining, entities.SessionStateClosed}, states[len(states)-2:])
}

func TestSessionCloseBeforeActive(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	h.orchestrator.Close()
	h.start(t)
	h.nextStream(t)

	require.NoError(t, h.wait(t))
	assert.Equal(t, []entities.SessionState{
		entities.SessionStateConnecting,
		entities.SessionStateActive,
		entities.SessionStateDraining,
		entities.SessionStateClosed,
	}, h.out.states())
}

func TestSessionAudioOverflowNotice(t *testing.T) {
	config := testSessionConfig()
	config.Buffer = pipeline.BufferConfig{WindowBytes: 4, MaxWindowDelay: time.Hour, MaxBufferedBytes: 8}
	config.OverflowNoticeInterval = time.Hour
	h := newSessionHarness(t, config)

	chunk := func(n int) entities.AudioChunk {
		return entities.AudioChunk{Data: make([]byte, n), Timestamp: time.Now()}
	}

	require.NoError(t, h.orchestrator.IngestAudio(chunk(8)))
	assert.ErrorIs(t, h.orchestrator.IngestAudio(chunk(4)), domain.ErrOverflow)
	assert.ErrorIs(t, h.orchestrator.IngestAudio(chunk(2)), domain.ErrOverflow)

	notices := h.out.notices(domain.NoticeAudioDropped)
	require.Len(t, notices, 1, "notices are throttled")
	assert.Equal(t, 4, notices[0].Bytes)
}

func TestSessionEndUtteranceFinalizes(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	stream := h.startActive(t)

	require.NoError(t, h.orchestrator.BeginUtterance())
	require.NoError(t, h.orchestrator.IngestAudio(entities.AudioChunk{Data: []byte("hello"), Timestamp: time.Now()}))
	require.NoError(t, h.orchestrator.EndUtterance())

	assert.Eventually(t, func() bool {
		finalized, _, _ := stream.Counts()
		return finalized == 1 && len(stream.Sent()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("hello"), stream.Sent()[0])

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))

	err := h.orchestrator.IngestAudio(entities.AudioChunk{Data: []byte("late")})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, h.orchestrator.EndUtterance(), domain.ErrSessionClosed)
}

func TestSessionSetLanguagePair(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())
	stream := h.startActive(t)

	assert.ErrorIs(t, h.orchestrator.SetLanguagePair("", ""), domain.ErrProtocolViolation)

	require.NoError(t, h.orchestrator.SetLanguagePair("", "fr"))
	pushFinals(stream, "hola")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "[fr] hola", h.out.audio()[0].Translation)

	require.NoError(t, h.orchestrator.SetLanguagePair("de", ""))
	next := h.nextStream(t)
	assert.Equal(t, []string{"es", "de"}, h.stt.Languages())

	pushFinals(next, "hallo")
	require.Eventually(t, func() bool { return len(h.out.audio()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "de", h.out.audio()[1].SourceLanguage)

	h.orchestrator.Close()
	require.NoError(t, h.wait(t))
}

func TestSessionDiscardsResultsAfterCancel(t *testing.T) {
	h := newSessionHarness(t, testSessionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan entities.SynthesizedSegment, 1)
	in <- entities.SynthesizedSegment{Sequence: 0, Text: "[en] late", Audio: []byte("late"), Encoding: entities.EncodingMP3}
	close(in)

	err := h.orchestrator.reassemble(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.out.audio(), "a result completing after cancellation is not released")
	assert.Equal(t, uint64(0), h.orchestrator.reassembler.Cursor())
}
