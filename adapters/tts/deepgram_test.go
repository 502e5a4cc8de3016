package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

func TestDeepgramTTS_Voice(t *testing.T) {
	d, err := NewDeepgramTTS(DeepgramConfig{APIKey: "k", Voices: map[string]string{"pt": "aura-2-pt"}}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	tests := []struct {
		name    string
		request repositories.SynthesisRequest
		want    string
	}{
		{"english", repositories.SynthesisRequest{Language: "en"}, "aura-asteria-en"},
		{"spanish", repositories.SynthesisRequest{Language: "es"}, "aura-2-celeste-es"},
		{"french", repositories.SynthesisRequest{Language: "fr"}, "aura-2-agathe-fr"},
		{"german", repositories.SynthesisRequest{Language: "de"}, "aura-2-lara-de"},
		{"configured override", repositories.SynthesisRequest{Language: "pt"}, "aura-2-pt"},
		{"unknown language", repositories.SynthesisRequest{Language: "ja"}, "aura-asteria-en"},
		{"explicit voice", repositories.SynthesisRequest{Language: "es", Voice: "aura-luna-en"}, "aura-luna-en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Voice(tt.request))
		})
	}
}

func TestDeepgramTTS_Synthesize(t *testing.T) {
	var got *http.Request
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3mp3"))
	}))
	defer server.Close()

	d, err := NewDeepgramTTS(DeepgramConfig{APIKey: "test-key", URL: server.URL + "/v1/speak"}, server.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := d.Synthesize(context.Background(), repositories.SynthesisRequest{Text: "Hola", Language: "es"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), result.Audio)
	assert.Equal(t, entities.EncodingMP3, result.Encoding)

	assert.Equal(t, "/v1/speak", got.URL.Path)
	assert.Equal(t, "aura-2-celeste-es", got.URL.Query().Get("model"))
	assert.Equal(t, "mp3", got.URL.Query().Get("encoding"))
	assert.Equal(t, "Token test-key", got.Header.Get("Authorization"))
	assert.Equal(t, map[string]string{"text": "Hola"}, body)
}

func TestDeepgramTTS_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
		},
		{
			name:    "empty audio",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			wantErr: ErrEmptyAudio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			d, err := NewDeepgramTTS(DeepgramConfig{APIKey: "k", URL: server.URL}, server.Client(), zaptest.NewLogger(t))
			require.NoError(t, err)

			_, err = d.Synthesize(context.Background(), repositories.SynthesisRequest{Text: "hi"})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
