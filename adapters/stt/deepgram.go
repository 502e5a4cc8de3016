package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

const (
	defaultDeepgramListenURL   = "wss://api.deepgram.com/v1/listen"
	defaultDeepgramModel       = "nova-2"
	defaultDeepgramEndpointing = 350

	deepgramWriteWait = 5 * time.Second
)

// DeepgramConfig holds configuration for the Deepgram live transcription adapter
type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	// URL of the live listen endpoint
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	// Endpointing is the silence in milliseconds that ends an utterance
	Endpointing int  `yaml:"endpointing"`
	SmartFormat bool `yaml:"smart_format"`
}

// Validate checks the Deepgram settings
func (c DeepgramConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("deepgram API key is required")
	}
	if c.Endpointing < 0 {
		return fmt.Errorf("endpointing must not be negative, got %d", c.Endpointing)
	}
	return nil
}

// DeepgramSpeechToText implements SpeechToText over Deepgram's live
// WebSocket API. One dialer is shared by every stream.
type DeepgramSpeechToText struct {
	config DeepgramConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*DeepgramSpeechToText)(nil)

// NewDeepgramSpeechToText creates a Deepgram adapter. A nil dialer uses
// websocket.DefaultDialer.
func NewDeepgramSpeechToText(config DeepgramConfig, dialer *websocket.Dialer, logger *zap.Logger) (*DeepgramSpeechToText, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.URL == "" {
		config.URL = defaultDeepgramListenURL
	}
	if config.Model == "" {
		config.Model = defaultDeepgramModel
	}
	if config.Endpointing == 0 {
		config.Endpointing = defaultDeepgramEndpointing
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &DeepgramSpeechToText{config: config, dialer: dialer, logger: logger}, nil
}

func (d *DeepgramSpeechToText) Name() string {
	return "deepgram"
}

// listenURL builds the listen endpoint with the stream options as query
// parameters
func (d *DeepgramSpeechToText) listenURL(audio repositories.AudioConfig) (string, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram URL: %w", err)
	}

	q := u.Query()
	q.Set("model", d.config.Model)
	q.Set("language", audio.Language)
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	q.Set("endpointing", strconv.Itoa(d.config.Endpointing))
	q.Set("interim_results", "true")
	q.Set("channels", "1")
	if audio.Encoding != "" {
		q.Set("encoding", audio.Encoding)
	}
	if audio.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OpenStream dials a live transcription connection
func (d *DeepgramSpeechToText) OpenStream(ctx context.Context, audio repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	endpoint, err := d.listenURL(audio)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	d.logger.Debug("Deepgram stream opened",
		zap.String("language", audio.Language),
		zap.Int("sampleRate", audio.SampleRate))

	s := &deepgramStream{
		conn:    conn,
		results: make(chan entities.TranscriptSegment, 16),
		done:    make(chan struct{}),
		logger:  d.logger,
	}
	s.stopAfter = context.AfterFunc(ctx, func() { s.Close() })
	go s.receive()
	return s, nil
}

// deepgramControl is a text control message understood by the live API
type deepgramControl struct {
	Type string `json:"type"`
}

// deepgramResponse covers the fields used from Results messages
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn *websocket.Conn

	// gorilla connections support one concurrent writer
	writeMu sync.Mutex

	results chan entities.TranscriptSegment
	done    chan struct{}

	mu      sync.Mutex
	err     error
	closing bool

	closeOnce sync.Once
	stopAfter func() bool
	logger    *zap.Logger
}

func (s *deepgramStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.write(websocket.BinaryMessage, data)
}

func (s *deepgramStream) Finalize() error {
	return s.control("Finalize")
}

func (s *deepgramStream) KeepAlive() error {
	return s.control("KeepAlive")
}

// CloseSend asks Deepgram to flush remaining results and close the
// connection
func (s *deepgramStream) CloseSend() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.control("CloseStream")
}

func (s *deepgramStream) Results() <-chan entities.TranscriptSegment {
	return s.results
}

func (s *deepgramStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopAfter != nil {
			s.stopAfter()
		}
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) control(messageType string) error {
	payload, err := json.Marshal(deepgramControl{Type: messageType})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

func (s *deepgramStream) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		return fmt.Errorf("failed to write to deepgram: %w", err)
	}
	return nil
}

// receive reads results until the connection ends
func (s *deepgramStream) receive() {
	defer close(s.results)

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var resp deepgramResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			s.logger.Warn("Failed to decode deepgram message", zap.Error(err))
			continue
		}
		if resp.Type != "Results" {
			s.logger.Debug("Deepgram message", zap.String("type", resp.Type))
			continue
		}

		segment, ok := resp.segment()
		if !ok {
			continue
		}
		select {
		case s.results <- segment:
		case <-s.done:
			return
		}
	}
}

// finish records why the connection ended. A close after CloseStream, or a
// local Close, is a clean end.
func (s *deepgramStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	if s.closing && (websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent)) {
		return
	}
	var closeErr *websocket.CloseError
	if s.closing && !errors.As(err, &closeErr) {
		// Deepgram may drop the TCP connection right after its final message
		return
	}
	s.err = fmt.Errorf("deepgram stream ended: %w", err)
}

// segment converts a Results message. Empty interim results carry nothing
// and are skipped; empty finals still mark the audio as acknowledged.
func (r deepgramResponse) segment() (entities.TranscriptSegment, bool) {
	var text string
	if len(r.Channel.Alternatives) > 0 {
		text = r.Channel.Alternatives[0].Transcript
	}
	if text == "" && !r.IsFinal {
		return entities.TranscriptSegment{}, false
	}

	start := time.Duration(r.Start * float64(time.Second))
	return entities.TranscriptSegment{
		Text:  text,
		Final: r.IsFinal,
		Start: start,
		End:   start + time.Duration(r.Duration*float64(time.Second)),
	}, true
}
