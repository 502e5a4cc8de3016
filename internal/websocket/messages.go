package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/interpreter/domain"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Control messages sent by the client
const (
	MessageTypeBeginUtterance  MessageType = "begin_utterance"
	MessageTypeEndUtterance    MessageType = "end_utterance"
	MessageTypeSetLanguagePair MessageType = "set_language_pair"
	MessageTypeClose           MessageType = "close"
)

// Messages sent by the server
const (
	MessageTypeState             MessageType = "state"
	MessageTypeInterimTranscript MessageType = "interim_transcript"
	MessageTypeFinalTranscript   MessageType = "final_transcript"
	MessageTypeTranslation       MessageType = "translation"
	MessageTypeSegmentAudio      MessageType = "segment_audio"
	MessageTypeNotice            MessageType = "notice"
	MessageTypeError             MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ControlMessage is a text frame sent by the client
type ControlMessage struct {
	BaseMessage
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// StateMessage reports a session lifecycle transition
type StateMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Source    string `json:"source"`
	Target    string `json:"target"`
}

// TranscriptMessage carries interim or final transcript text. Only final
// transcripts have a sequence number.
type TranscriptMessage struct {
	BaseMessage
	Sequence *uint64 `json:"seq,omitempty"`
	Text     string  `json:"text"`
	Language string  `json:"lang,omitempty"`
}

// TranslationMessage carries translated text in completion order
type TranslationMessage struct {
	BaseMessage
	Sequence   uint64 `json:"seq"`
	Text       string `json:"text"`
	SourceText string `json:"source_text"`
	Language   string `json:"lang"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// SegmentAudioMessage precedes the binary frame holding a segment's audio.
// Bytes is zero and no binary frame follows when synthesis was degraded.
type SegmentAudioMessage struct {
	BaseMessage
	Sequence    uint64 `json:"seq"`
	Text        string `json:"text"`
	Translation string `json:"translation"`
	Language    string `json:"lang"`
	Encoding    string `json:"encoding,omitempty"`
	Bytes       int    `json:"bytes"`
	Degraded    bool   `json:"degraded,omitempty"`
}

// NoticeMessage reports a non-fatal condition
type NoticeMessage struct {
	BaseMessage
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	Sequence *uint64 `json:"seq,omitempty"`
	Bytes    int     `json:"bytes,omitempty"`
}

// ErrorMessage represents an error response. The session ends after it.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates a control message. Errors wrap
// domain.ErrProtocolViolation.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %v", domain.ErrProtocolViolation, err)
	}

	switch msg.Type {
	case MessageTypeBeginUtterance, MessageTypeEndUtterance, MessageTypeClose:
		return &msg, nil

	case MessageTypeSetLanguagePair:
		if err := v.validateLanguagePair(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("%w: message missing type field", domain.ErrProtocolViolation)

	default:
		return nil, fmt.Errorf("%w: unsupported message type: %s", domain.ErrProtocolViolation, msg.Type)
	}
}

// validateLanguagePair validates set_language_pair fields
func (v *MessageValidator) validateLanguagePair(msg *ControlMessage) error {
	msg.Source = strings.ToLower(strings.TrimSpace(msg.Source))
	msg.Target = strings.ToLower(strings.TrimSpace(msg.Target))

	if msg.Source == "" && msg.Target == "" {
		return fmt.Errorf("%w: source or target is required", domain.ErrProtocolViolation)
	}
	for _, lang := range []string{msg.Source, msg.Target} {
		if lang != "" && !validLanguageTag(lang) {
			return fmt.Errorf("%w: invalid language code %q", domain.ErrProtocolViolation, lang)
		}
	}
	return nil
}

// validLanguageTag accepts codes like "en" or "pt-br"
func validLanguageTag(lang string) bool {
	if len(lang) < 2 || len(lang) > 8 {
		return false
	}
	for _, r := range lang {
		if (r < 'a' || r > 'z') && r != '-' {
			return false
		}
	}
	return true
}

// WriteData is one frame queued for the write pump
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// EncodeEvent renders a session event as the frames sent to the client
func EncodeEvent(event domain.Event) ([]WriteData, error) {
	base := func(t MessageType) BaseMessage {
		return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
	}

	var msg interface{}
	var audio []byte
	switch e := event.(type) {
	case domain.StateChanged:
		msg = &StateMessage{
			BaseMessage: base(MessageTypeState),
			SessionID:   e.SessionID,
			State:       string(e.State),
			Source:      e.SourceLanguage,
			Target:      e.TargetLanguage,
		}
	case domain.InterimTranscript:
		msg = &TranscriptMessage{
			BaseMessage: base(MessageTypeInterimTranscript),
			Text:        e.Text,
		}
	case domain.FinalTranscript:
		seq := e.Sequence
		msg = &TranscriptMessage{
			BaseMessage: base(MessageTypeFinalTranscript),
			Sequence:    &seq,
			Text:        e.Text,
			Language:    e.Language,
		}
	case domain.TranslationReady:
		msg = &TranslationMessage{
			BaseMessage: base(MessageTypeTranslation),
			Sequence:    e.Sequence,
			Text:        e.Text,
			SourceText:  e.Source,
			Language:    e.Language,
			Degraded:    e.Degraded,
		}
	case domain.SegmentAudio:
		msg = &SegmentAudioMessage{
			BaseMessage: base(MessageTypeSegmentAudio),
			Sequence:    e.Sequence,
			Text:        e.Text,
			Translation: e.Translation,
			Language:    e.SourceLanguage,
			Encoding:    e.Encoding,
			Bytes:       len(e.Audio),
			Degraded:    e.Degraded,
		}
		audio = e.Audio
	case domain.Notice:
		msg = &NoticeMessage{
			BaseMessage: base(MessageTypeNotice),
			Code:        e.Code,
			Message:     e.Message,
			Sequence:    e.Sequence,
			Bytes:       e.Bytes,
		}
	case domain.SessionError:
		msg = CreateErrorMessage(e.Code, e.Message)
	default:
		return nil, fmt.Errorf("unsupported event %T", event)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", event, err)
	}

	frames := []WriteData{{Type: websocket.TextMessage, Payload: payload}}
	if len(audio) > 0 {
		frames = append(frames, WriteData{Type: websocket.BinaryMessage, Payload: audio})
	}
	return frames, nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
	}
}
