package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

var _ repositories.SpeechToText = &DeepgramSpeechToText{}

type fakeDeepgram struct {
	server   *httptest.Server
	requests chan *http.Request
	received chan string
	// script runs against each accepted connection
	script func(conn *websocket.Conn, received chan<- string)
}

func newFakeDeepgram(t *testing.T, script func(conn *websocket.Conn, received chan<- string)) *fakeDeepgram {
	t.Helper()
	f := &fakeDeepgram{
		requests: make(chan *http.Request, 4),
		received: make(chan string, 64),
		script:   script,
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f.requests <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.script(conn, f.received)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDeepgram) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/listen"
}

func resultsMessage(text string, final bool, start, duration float64) []byte {
	msg := map[string]interface{}{
		"type":     "Results",
		"is_final": final,
		"start":    start,
		"duration": duration,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{{"transcript": text, "confidence": 0.98}},
		},
	}
	payload, _ := json.Marshal(msg)
	return payload
}

// echoScript reports every frame it receives, answers Finalize with a final
// result and closes normally on CloseStream
func echoScript(conn *websocket.Conn, received chan<- string) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			received <- "audio:" + string(data)
			conn.WriteMessage(websocket.TextMessage, resultsMessage("hol", false, 0, 0.5))
			continue
		}

		var control deepgramControl
		json.Unmarshal(data, &control)
		received <- control.Type
		switch control.Type {
		case "Finalize":
			conn.WriteMessage(websocket.TextMessage, resultsMessage("hola", true, 0, 1.5))
		case "CloseStream":
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func newTestDeepgram(t *testing.T, endpoint string) *DeepgramSpeechToText {
	t.Helper()
	d, err := NewDeepgramSpeechToText(DeepgramConfig{APIKey: "test-key", URL: endpoint, SmartFormat: true}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func nextResult(t *testing.T, stream repositories.SpeechToTextStreaming) (entities.TranscriptSegment, bool) {
	t.Helper()
	select {
	case segment, ok := <-stream.Results():
		return segment, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return entities.TranscriptSegment{}, false
	}
}

func TestDeepgramStream(t *testing.T) {
	fake := newFakeDeepgram(t, echoScript)
	d := newTestDeepgram(t, fake.url())

	stream, err := d.OpenStream(context.Background(), repositories.AudioConfig{SampleRate: 16000, Encoding: "linear16", Language: "es"})
	require.NoError(t, err)
	defer stream.Close()

	req := <-fake.requests
	query := req.URL.Query()
	assert.Equal(t, "nova-2", query.Get("model"))
	assert.Equal(t, "es", query.Get("language"))
	assert.Equal(t, "true", query.Get("smart_format"))
	assert.Equal(t, "350", query.Get("endpointing"))
	assert.Equal(t, "true", query.Get("interim_results"))
	assert.Equal(t, "linear16", query.Get("encoding"))
	assert.Equal(t, "16000", query.Get("sample_rate"))

	require.NoError(t, stream.Stream([]byte("pcm")))
	assert.Equal(t, "audio:pcm", <-fake.received)
	interim, ok := nextResult(t, stream)
	require.True(t, ok)
	assert.Equal(t, entities.TranscriptSegment{Text: "hol", End: 500 * time.Millisecond}, interim)

	require.NoError(t, stream.KeepAlive())
	assert.Equal(t, "KeepAlive", <-fake.received)

	require.NoError(t, stream.Finalize())
	assert.Equal(t, "Finalize", <-fake.received)
	final, ok := nextResult(t, stream)
	require.True(t, ok)
	assert.True(t, final.Final)
	assert.Equal(t, "hola", final.Text)
	assert.Equal(t, 1500*time.Millisecond, final.End)

	require.NoError(t, stream.CloseSend())
	assert.Equal(t, "CloseStream", <-fake.received)
	_, ok = nextResult(t, stream)
	assert.False(t, ok, "results closed after CloseStream")
	assert.NoError(t, stream.Err())
}

func TestDeepgramStreamDropIsAnError(t *testing.T) {
	fake := newFakeDeepgram(t, func(conn *websocket.Conn, received chan<- string) {
		conn.WriteMessage(websocket.TextMessage, resultsMessage("", false, 0, 0))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "overloaded"))
	})
	d := newTestDeepgram(t, fake.url())

	stream, err := d.OpenStream(context.Background(), repositories.AudioConfig{Language: "en"})
	require.NoError(t, err)
	defer stream.Close()

	_, ok := nextResult(t, stream)
	assert.False(t, ok, "empty interim results are skipped")
	assert.Error(t, stream.Err())
}

func TestDeepgramOpenFailure(t *testing.T) {
	fake := newFakeDeepgram(t, echoScript)
	d, err := NewDeepgramSpeechToText(DeepgramConfig{APIKey: "wrong", URL: fake.url()}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = d.OpenStream(context.Background(), repositories.AudioConfig{Language: "en"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDeepgramCloseOnContextCancel(t *testing.T) {
	fake := newFakeDeepgram(t, echoScript)
	d := newTestDeepgram(t, fake.url())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := d.OpenStream(ctx, repositories.AudioConfig{Language: "en"})
	require.NoError(t, err)

	cancel()
	_, ok := nextResult(t, stream)
	assert.False(t, ok)
	assert.NoError(t, stream.Err(), "local close is not a provider failure")
}

func TestDeepgramConfigValidate(t *testing.T) {
	_, err := NewDeepgramSpeechToText(DeepgramConfig{}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	d := newTestDeepgram(t, "")
	raw, err := d.listenURL(repositories.AudioConfig{Language: "fr"})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "api.deepgram.com", u.Host)
	assert.Equal(t, "fr", u.Query().Get("language"))
	assert.Empty(t, u.Query().Get("sample_rate"))
}
