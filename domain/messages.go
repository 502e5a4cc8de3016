package domain

import "github.com/satriahrh/interpreter/domain/entities"

// Event is something a session reports to its client. The transport decides
// how each event is framed on the wire.
type Event interface {
	isEvent()
}

// StateChanged reports a session lifecycle transition
type StateChanged struct {
	SessionID      string
	State          entities.SessionState
	SourceLanguage string
	TargetLanguage string
}

// InterimTranscript is advisory text that may be revised or superseded.
type InterimTranscript struct {
	Text string
}

// FinalTranscript is an immutable, sequenced transcript of the speaker.
type FinalTranscript struct {
	Sequence uint64
	Text     string
	Language string
}

// TranslationReady carries translated text as soon as it is available. It
// arrives in completion order; audio is released in sequence order.
type TranslationReady struct {
	Sequence uint64
	Text     string
	Source   string
	Language string
	Degraded bool
}

// SegmentAudio is released strictly in sequence order by the reassembler.
type SegmentAudio struct {
	Sequence       uint64
	Text           string
	Translation    string
	SourceLanguage string
	Encoding       string
	Audio          []byte
	Degraded       bool
}

// Notice codes
const (
	NoticeTranscriptUnavailable = "transcript_unavailable"
	NoticeTranscriptRestored    = "transcript_restored"
	NoticeAudioDropped          = "audio_dropped"
	NoticeTranslationDegraded   = "translation_degraded"
	NoticeSynthesisDegraded     = "synthesis_degraded"
	NoticeBacklogged            = "backlogged"
	NoticeBacklogCleared        = "backlog_cleared"
	NoticeProtocolViolation     = "protocol_violation"
)

// Notice is a non-fatal condition the client should be told about.
type Notice struct {
	Code     string
	Message  string
	Sequence *uint64
	Bytes    int
}

// SessionError is sent once, before the connection is torn down.
type SessionError struct {
	Code    string
	Message string
}

func (StateChanged) isEvent()      {}
func (InterimTranscript) isEvent() {}
func (FinalTranscript) isEvent()   {}
func (TranslationReady) isEvent()  {}
func (SegmentAudio) isEvent()      {}
func (Notice) isEvent()            {}
func (SessionError) isEvent()      {}
