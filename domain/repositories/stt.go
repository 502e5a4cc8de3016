package repositories

import (
	"context"

	"github.com/satriahrh/interpreter/domain/entities"
)

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// Name returns the provider identifier
	Name() string
	// OpenStream opens one streaming recognition session
	OpenStream(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming is one open recognition stream. Segments delivered on
// Results are already normalized; Sequence is never set by the provider.
type SpeechToTextStreaming interface {
	// Stream sends audio to the recognizer
	Stream(data []byte) error
	// Finalize asks the recognizer to finalize the current utterance
	Finalize() error
	// KeepAlive keeps the stream open while no audio is flowing
	KeepAlive() error
	// CloseSend signals that no more audio will be sent. Results keeps
	// delivering until the provider has flushed everything.
	CloseSend() error
	// Results is closed when the stream ends
	Results() <-chan entities.TranscriptSegment
	// Err returns the terminal error once Results is closed, nil on a clean end
	Err() error
	// Close releases the stream immediately
	Close() error
}
