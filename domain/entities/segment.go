package entities

import "time"

// Audio encodings understood across the pipeline
const (
	EncodingLinear16 = "linear16"
	EncodingMP3      = "mp3"
	EncodingPCM      = "pcm"
)

// AudioChunk is one raw audio frame received from the client
type AudioChunk struct {
	Data       []byte
	Timestamp  time.Time
	SampleRate int
	Encoding   string
}

// AudioWindow is buffered audio handed to the transcription stage
type AudioWindow struct {
	Data           []byte
	StartedAt      time.Time
	EndOfUtterance bool
}

// TranscriptSegment is a transcript produced by the STT collaborator.
// Sequence is meaningful only when Final is true and the sequencer has
// assigned it.
type TranscriptSegment struct {
	Text     string
	Final    bool
	Sequence uint64
	Start    time.Duration
	End      time.Duration
}

// TranslationTask is a sequenced final transcript waiting for translation
type TranslationTask struct {
	Sequence       uint64
	Text           string
	SourceLanguage string
	TargetLanguage string
	Start          time.Duration
	End            time.Duration
}

// TranslatedSegment is the translation of exactly one TranslationTask
type TranslatedSegment struct {
	Sequence       uint64
	SourceText     string
	Text           string
	SourceLanguage string
	TargetLanguage string
	Degraded       bool
}

// SynthesizedSegment is the audio for exactly one TranslatedSegment
type SynthesizedSegment struct {
	Sequence       uint64
	SourceText     string
	Text           string
	SourceLanguage string
	Audio          []byte
	Encoding       string
	Degraded       bool
}
