package websocket

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name       string
		message    string
		wantErr    bool
		wantType   MessageType
		wantSource string
		wantTarget string
	}{
		{
			name:     "begin utterance",
			message:  `{"type": "begin_utterance"}`,
			wantType: MessageTypeBeginUtterance,
		},
		{
			name:     "end utterance",
			message:  `{"type": "end_utterance", "timestamp": "2024-01-01T00:00:00Z"}`,
			wantType: MessageTypeEndUtterance,
		},
		{
			name:     "close",
			message:  `{"type": "close"}`,
			wantType: MessageTypeClose,
		},
		{
			name:       "language pair is normalized",
			message:    `{"type": "set_language_pair", "source": " FR ", "target": "pt-BR"}`,
			wantType:   MessageTypeSetLanguagePair,
			wantSource: "fr",
			wantTarget: "pt-br",
		},
		{
			name:       "target only",
			message:    `{"type": "set_language_pair", "target": "de"}`,
			wantType:   MessageTypeSetLanguagePair,
			wantTarget: "de",
		},
		{
			name:    "language pair without languages",
			message: `{"type": "set_language_pair"}`,
			wantErr: true,
		},
		{
			name:    "invalid language code",
			message: `{"type": "set_language_pair", "source": "e"}`,
			wantErr: true,
		},
		{
			name:    "language code with digits",
			message: `{"type": "set_language_pair", "target": "en1"}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			message: `{"source": "en"}`,
			wantErr: true,
		},
		{
			name:    "unsupported type",
			message: `{"type": "audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			message: `{"type": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := validator.ValidateMessage([]byte(tt.message))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrProtocolViolation)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantSource, msg.Source)
			assert.Equal(t, tt.wantTarget, msg.Target)
		})
	}
}

func decodeFrame(t *testing.T, frame WriteData) map[string]interface{} {
	t.Helper()
	require.Equal(t, websocket.TextMessage, frame.Type)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(frame.Payload, &fields))
	return fields
}

func TestEncodeEvent_SegmentAudio(t *testing.T) {
	frames, err := EncodeEvent(domain.SegmentAudio{
		Sequence:       3,
		Text:           "hola",
		Translation:    "hello",
		SourceLanguage: "es",
		Encoding:       entities.EncodingMP3,
		Audio:          []byte{0xff, 0xfb, 0x90},
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	header := decodeFrame(t, frames[0])
	assert.Equal(t, "segment_audio", header["type"])
	assert.Equal(t, float64(3), header["seq"])
	assert.Equal(t, "hola", header["text"])
	assert.Equal(t, "hello", header["translation"])
	assert.Equal(t, "es", header["lang"])
	assert.Equal(t, "mp3", header["encoding"])
	assert.Equal(t, float64(3), header["bytes"])
	assert.NotContains(t, header, "degraded")

	assert.Equal(t, websocket.BinaryMessage, frames[1].Type)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, frames[1].Payload)
}

func TestEncodeEvent_DegradedSegmentHasNoAudioFrame(t *testing.T) {
	frames, err := EncodeEvent(domain.SegmentAudio{Sequence: 1, Text: "dos", Translation: "two", Degraded: true})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	header := decodeFrame(t, frames[0])
	assert.Equal(t, float64(0), header["bytes"])
	assert.Equal(t, true, header["degraded"])
}

func TestEncodeEvent_TextEvents(t *testing.T) {
	seq := uint64(4)
	tests := []struct {
		name  string
		event domain.Event
		want  map[string]interface{}
	}{
		{
			name:  "state",
			event: domain.StateChanged{SessionID: "s1", State: entities.SessionStateActive, SourceLanguage: "es", TargetLanguage: "en"},
			want:  map[string]interface{}{"type": "state", "session_id": "s1", "state": "active", "source": "es", "target": "en"},
		},
		{
			name:  "interim transcript has no sequence",
			event: domain.InterimTranscript{Text: "ho"},
			want:  map[string]interface{}{"type": "interim_transcript", "text": "ho"},
		},
		{
			name:  "final transcript",
			event: domain.FinalTranscript{Sequence: 0, Text: "hola", Language: "es"},
			want:  map[string]interface{}{"type": "final_transcript", "seq": float64(0), "text": "hola", "lang": "es"},
		},
		{
			name:  "translation",
			event: domain.TranslationReady{Sequence: 2, Text: "hello", Source: "hola", Language: "en", Degraded: true},
			want:  map[string]interface{}{"type": "translation", "seq": float64(2), "text": "hello", "source_text": "hola", "lang": "en", "degraded": true},
		},
		{
			name:  "notice",
			event: domain.Notice{Code: domain.NoticeTranslationDegraded, Message: "translation unavailable", Sequence: &seq},
			want:  map[string]interface{}{"type": "notice", "code": "translation_degraded", "message": "translation unavailable", "seq": float64(4)},
		},
		{
			name:  "error",
			event: domain.SessionError{Code: domain.CodeCollaboratorUnavailable, Message: "stt down"},
			want:  map[string]interface{}{"type": "error", "error_code": domain.CodeCollaboratorUnavailable, "message": "stt down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := EncodeEvent(tt.event)
			require.NoError(t, err)
			require.Len(t, frames, 1)

			fields := decodeFrame(t, frames[0])
			assert.NotEmpty(t, fields["timestamp"])
			delete(fields, "timestamp")
			assert.Equal(t, tt.want, fields)
		})
	}
}
