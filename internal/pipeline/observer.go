package pipeline

import "time"

// Stage names used for attribution in errors, logs and metrics
const (
	StageBuffer        = "buffer"
	StageTranscription = "transcription"
	StageSequencer     = "sequencer"
	StageTranslation   = "translation"
	StageSynthesis     = "synthesis"
	StageReassembly    = "reassembly"
)

// Observer receives pipeline measurements
type Observer interface {
	CallFinished(stage, provider string, elapsed time.Duration, err error)
	Retried(stage, provider string)
	Degraded(stage string)
	Reconnected(provider string)
}

type nopObserver struct{}

func (nopObserver) CallFinished(string, string, time.Duration, error) {}
func (nopObserver) Retried(string, string)                            {}
func (nopObserver) Degraded(string)                                   {}
func (nopObserver) Reconnected(string)                                {}

// NopObserver discards all measurements
func NopObserver() Observer {
	return nopObserver{}
}
