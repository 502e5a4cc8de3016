package entities

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the lifecycle state of a session
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateDraining   SessionState = "draining"
	SessionStateClosed     SessionState = "closed"
	SessionStateErrored    SessionState = "errored"
)

// ErrInvalidTransition is returned when a state change is not allowed
var ErrInvalidTransition = errors.New("invalid session state transition")

// Allowed transitions. Connecting and Active may go straight to Closed when
// the client disconnects without a close handshake.
var sessionTransitions = map[SessionState][]SessionState{
	SessionStateConnecting: {SessionStateActive, SessionStateErrored, SessionStateClosed},
	SessionStateActive:     {SessionStateDraining, SessionStateErrored, SessionStateClosed},
	SessionStateDraining:   {SessionStateClosed, SessionStateErrored},
	SessionStateErrored:    {SessionStateClosed},
	SessionStateClosed:     {},
}

// Session represents one live interpreter connection. All mutation goes
// through its methods; it is safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.RWMutex
	state          SessionState
	sourceLanguage string
	targetLanguage string
	inFlight       map[uint64]struct{}
	closedAt       time.Time
}

// NewSession creates a session in the Connecting state
func NewSession(sourceLanguage, targetLanguage string) *Session {
	return &Session{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now(),
		state:          SessionStateConnecting,
		sourceLanguage: sourceLanguage,
		targetLanguage: targetLanguage,
		inFlight:       make(map[uint64]struct{}),
	}
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to the given state if allowed
func (s *Session) Transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range sessionTransitions[s.state] {
		if allowed == to {
			s.state = to
			if to == SessionStateClosed {
				s.closedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// IsTerminal reports whether the session can no longer accept work
func (s *Session) IsTerminal() bool {
	state := s.State()
	return state == SessionStateClosed || state == SessionStateErrored
}

// Languages returns the current source and target language
func (s *Session) Languages() (source, target string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceLanguage, s.targetLanguage
}

// SetLanguages updates the language pair. Empty values keep the current one.
func (s *Session) SetLanguages(source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source != "" {
		s.sourceLanguage = source
	}
	if target != "" {
		s.targetLanguage = target
	}
}

// TrackInFlight records that seq entered the pipeline
func (s *Session) TrackInFlight(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[seq] = struct{}{}
}

// CompleteInFlight records that seq left the pipeline
func (s *Session) CompleteInFlight(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, seq)
}

// InFlight returns the in-flight sequence numbers in ascending order
func (s *Session) InFlight() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := make([]uint64, 0, len(s.inFlight))
	for seq := range s.inFlight {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Duration returns how long the session has been (or was) open
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.closedAt.IsZero() {
		return s.closedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	source, target := s.Languages()
	if source == "" {
		return errors.New("source language is required")
	}
	if target == "" {
		return errors.New("target language is required")
	}

	return nil
}
