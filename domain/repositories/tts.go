package repositories

import "context"

// TextToSpeech abstracts speech synthesis services
type TextToSpeech interface {
	// Name returns the provider identifier
	Name() string
	// Synthesize renders text as a complete audio payload
	Synthesize(ctx context.Context, request SynthesisRequest) (SynthesisResult, error)
}

// SynthesisRequest is one segment of text to speak
type SynthesisRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice,omitempty"`
}

// SynthesisResult is the audio returned by the provider
type SynthesisResult struct {
	Audio    []byte `json:"-"`
	Encoding string `json:"encoding"`
}
