package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage and adapter. Adapters wrap provider
// failures with one of these so callers can classify with errors.Is.
var (
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrCollaboratorTimeout     = errors.New("collaborator timeout")
	ErrOverflow                = errors.New("overflow")
	ErrProtocolViolation       = errors.New("protocol violation")
	ErrSessionClosed           = errors.New("session closed")
)

// Error codes sent to clients in error and notice frames
const (
	CodeCollaboratorUnavailable = "collaborator_unavailable"
	CodeCollaboratorTimeout     = "collaborator_timeout"
	CodeOverflow                = "overflow"
	CodeProtocolViolation       = "protocol_violation"
	CodeSessionClosed           = "session_closed"
	CodeInternal                = "internal_error"
)

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as a CollaboratorUnavailable failure of provider.
func Unavailable(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorUnavailable, provider, err)
}

// Timeout wraps err as a CollaboratorTimeout failure of provider.
func Timeout(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorTimeout, provider, err)
}

// ClassifyCallError maps a raw collaborator call error onto the taxonomy.
// Errors that already carry a taxonomy sentinel are returned unchanged.
func ClassifyCallError(provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollaboratorUnavailable), errors.Is(err, ErrCollaboratorTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(provider, err)
	default:
		return Unavailable(provider, err)
	}
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCollaboratorTimeout):
		return CodeCollaboratorTimeout
	case errors.Is(err, ErrCollaboratorUnavailable):
		return CodeCollaboratorUnavailable
	case errors.Is(err, ErrOverflow):
		return CodeOverflow
	case errors.Is(err, ErrProtocolViolation):
		return CodeProtocolViolation
	case errors.Is(err, ErrSessionClosed):
		return CodeSessionClosed
	default:
		return CodeInternal
	}
}
