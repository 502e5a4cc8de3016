// Package pipelinetest provides scriptable collaborators for pipeline and
// session tests.
package pipelinetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

// ErrBoom is a generic collaborator failure
var ErrBoom = errors.New("boom")

// Stream is a recognition stream driven by the test
type Stream struct {
	mu         sync.Mutex
	sent       [][]byte
	finalized  int
	keepAlives int
	closedSend bool
	err        error

	results chan entities.TranscriptSegment
	ended   sync.Once
}

func newStream() *Stream {
	return &Stream{results: make(chan entities.TranscriptSegment, 16)}
}

func (s *Stream) Stream(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *Stream) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized++
	return nil
}

func (s *Stream) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepAlives++
	return nil
}

// CloseSend ends the stream the way a recognizer does once it has flushed
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	s.closedSend = true
	s.mu.Unlock()
	s.End(nil)
	return nil
}

func (s *Stream) Results() <-chan entities.TranscriptSegment {
	return s.results
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.End(nil)
	return nil
}

// End closes the result channel; a non-nil err simulates a dropped connection
func (s *Stream) End(err error) {
	s.ended.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.results)
	})
}

// Push delivers a transcript segment to the stage
func (s *Stream) Push(segment entities.TranscriptSegment) {
	s.results <- segment
}

// Sent returns the audio chunks received so far
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Counts returns finalize and keep-alive counts and whether CloseSend was called
func (s *Stream) Counts() (finalized, keepAlives int, closedSend bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized, s.keepAlives, s.closedSend
}

// STT hands out a new Stream per OpenStream call
type STT struct {
	// Opened receives every stream as it is opened
	Opened chan *Stream

	mu       sync.Mutex
	configs  []repositories.AudioConfig
	openErrs map[int]error
}

func NewSTT() *STT {
	return &STT{
		Opened:   make(chan *Stream, 8),
		openErrs: make(map[int]error),
	}
}

func (f *STT) Name() string { return "fake-stt" }

func (f *STT) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := len(f.configs)
	f.configs = append(f.configs, config)
	if err := f.openErrs[attempt]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := newStream()
	f.Opened <- stream
	return stream, nil
}

// FailOpen makes the given OpenStream attempt, counted from 0, fail
func (f *STT) FailOpen(attempt int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs[attempt] = err
}

// Languages returns the language of every OpenStream call
func (f *STT) Languages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	langs := make([]string, 0, len(f.configs))
	for _, c := range f.configs {
		langs = append(langs, c.Language)
	}
	return langs
}

// Call describes how one collaborator attempt behaves
type Call struct {
	Delay time.Duration
	Err   error
	// Hang blocks until the call context is done
	Hang bool
}

// Script plays per-text call scripts. Calls beyond the script succeed.
type Script struct {
	mu        sync.Mutex
	script    map[string][]Call
	calls     map[string]int
	cancelled map[string]int
}

func NewScript() *Script {
	return &Script{
		script:    make(map[string][]Call),
		calls:     make(map[string]int),
		cancelled: make(map[string]int),
	}
}

// On scripts the calls made for text
func (s *Script) On(text string, calls ...Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[text] = calls
}

func (s *Script) play(ctx context.Context, text string) error {
	s.mu.Lock()
	attempt := s.calls[text]
	s.calls[text]++
	var call Call
	if attempt < len(s.script[text]) {
		call = s.script[text][attempt]
	}
	s.mu.Unlock()

	if call.Hang {
		<-ctx.Done()
		s.markCancelled(text)
		return ctx.Err()
	}
	if call.Delay > 0 {
		select {
		case <-time.After(call.Delay):
		case <-ctx.Done():
			s.markCancelled(text)
			return ctx.Err()
		}
	}
	return call.Err
}

func (s *Script) markCancelled(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[text]++
}

// Count returns how many calls were made for text
func (s *Script) Count(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

// Cancelled returns how many calls for text ended by context cancellation
func (s *Script) Cancelled(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[text]
}

// Translator prefixes text with the target language
type Translator struct {
	*Script
}

func NewTranslator() Translator {
	return Translator{NewScript()}
}

func (f Translator) Name() string { return "fake-translator" }

func (f Translator) Translate(ctx context.Context, request repositories.TranslationRequest) (string, error) {
	if err := f.play(ctx, request.Text); err != nil {
		return "", err
	}
	return "[" + request.TargetLanguage + "] " + request.Text, nil
}

// TTS returns the text bytes as audio
type TTS struct {
	*Script
}

func NewTTS() TTS {
	return TTS{NewScript()}
}

func (f TTS) Name() string { return "fake-tts" }

func (f TTS) Synthesize(ctx context.Context, request repositories.SynthesisRequest) (repositories.SynthesisResult, error) {
	if err := f.play(ctx, request.Text); err != nil {
		return repositories.SynthesisResult{}, err
	}
	return repositories.SynthesisResult{Audio: []byte(request.Text), Encoding: entities.EncodingMP3}, nil
}
