package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/domain/repositories"
)

// GoogleConfig holds configuration for the Google Cloud Speech adapter
type GoogleConfig struct {
	// CredentialsFile is a service account key; empty uses application
	// default credentials
	CredentialsFile string `yaml:"credentials_file"`
	Model           string `yaml:"model"`
}

// GoogleSpeechToText implements SpeechToText for Google Cloud. The client is
// shared by every stream; gRPC multiplexes them over one connection.
type GoogleSpeechToText struct {
	client *speech.Client
	model  string
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the shared speech client
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger, opts ...option.ClientOption) (*GoogleSpeechToText, error) {
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleSpeechToText{client: client, model: config.Model, logger: logger}, nil
}

func (g *GoogleSpeechToText) Name() string {
	return "google"
}

// Close releases the shared client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// OpenStream starts a streaming recognize call with interim results
func (g *GoogleSpeechToText) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					Model:                      g.model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		stream:  stream,
		cancel:  cancel,
		results: make(chan entities.TranscriptSegment, 16),
		silence: keepAliveSilence(encoding, config.SampleRate),
		logger:  g.logger,
	}
	go s.receive(streamCtx)
	return s, nil
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	// gRPC client streams allow one concurrent sender
	sendMu sync.Mutex

	results chan entities.TranscriptSegment
	silence []byte

	mu  sync.Mutex
	err error

	logger *zap.Logger
}

func (s *googleStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.send(data)
}

// Finalize is a no-op; Google ends utterances on its own endpointing and
// reports them as final results.
func (s *googleStream) Finalize() error {
	return nil
}

// KeepAlive sends a short stretch of silence so the stream does not hit the
// audio timeout
func (s *googleStream) KeepAlive() error {
	if len(s.silence) == 0 {
		return nil
	}
	return s.send(s.silence)
}

func (s *googleStream) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.CloseSend()
}

func (s *googleStream) Results() <-chan entities.TranscriptSegment {
	return s.results
}

func (s *googleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *googleStream) Close() error {
	s.cancel()
	return nil
}

func (s *googleStream) send(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (s *googleStream) receive(ctx context.Context) {
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = fmt.Errorf("failed to receive response: %w", err)
				s.mu.Unlock()
			}
			return
		}
		if resp.Error != nil {
			s.mu.Lock()
			s.err = fmt.Errorf("recognition error %d: %s", resp.Error.Code, resp.Error.Message)
			s.mu.Unlock()
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			segment := entities.TranscriptSegment{
				Text:  strings.TrimSpace(result.Alternatives[0].Transcript),
				Final: result.IsFinal,
			}
			if result.ResultEndTime != nil {
				segment.End = result.ResultEndTime.AsDuration()
			}
			if segment.Text == "" && !segment.Final {
				continue
			}

			select {
			case s.results <- segment:
			case <-ctx.Done():
				return
			}
		}
	}
}

// keepAliveSilence returns 100ms of silence for encodings where zero bytes
// decode as silence
func keepAliveSilence(encoding speechpb.RecognitionConfig_AudioEncoding, sampleRate int) []byte {
	if encoding != speechpb.RecognitionConfig_LINEAR16 || sampleRate <= 0 {
		return nil
	}
	return make([]byte, sampleRate/10*2)
}

// errUnsupportedEncoding is returned for encodings Google cannot stream
var errUnsupportedEncoding = errors.New("unsupported audio encoding")

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}
}
