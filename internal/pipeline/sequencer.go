package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
)

// Sequencer numbers final transcript segments and dispatches them to the
// translation stage
type Sequencer struct {
	session *entities.Session

	mu     sync.Mutex
	next   uint64
	closed bool
	tasks  chan entities.TranslationTask
}

// NewSequencer creates a sequencer whose dispatch queue holds capacity tasks
func NewSequencer(session *entities.Session, capacity int) *Sequencer {
	return &Sequencer{
		session: session,
		tasks:   make(chan entities.TranslationTask, capacity),
	}
}

// Tasks returns the dispatch queue. It is closed by Close.
func (s *Sequencer) Tasks() <-chan entities.TranslationTask {
	return s.tasks
}

// Assign gives a final segment the next sequence number and dispatches it.
// The number is consumed only when dispatch succeeds.
func (s *Sequencer) Assign(ctx context.Context, segment entities.TranscriptSegment) (entities.TranslationTask, error) {
	if !segment.Final {
		return entities.TranslationTask{}, fmt.Errorf("%w: interim segment cannot be sequenced", domain.ErrProtocolViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return entities.TranslationTask{}, domain.ErrSessionClosed
	}

	source, target := s.session.Languages()
	task := entities.TranslationTask{
		Sequence:       s.next,
		Text:           segment.Text,
		SourceLanguage: source,
		TargetLanguage: target,
		Start:          segment.Start,
		End:            segment.End,
	}

	s.session.TrackInFlight(task.Sequence)
	select {
	case s.tasks <- task:
	case <-ctx.Done():
		s.session.CompleteInFlight(task.Sequence)
		return entities.TranslationTask{}, ctx.Err()
	}

	s.next++
	return task, nil
}

// Assigned returns how many sequence numbers have been handed out
func (s *Sequencer) Assigned() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close stops assignment and closes the dispatch queue
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.tasks)
}
