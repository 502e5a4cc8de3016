// Command interpreter-client streams a raw PCM file to an interpreter server
// and saves the translated segment audio it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type options struct {
	addr       string
	token      string
	source     string
	target     string
	input      string
	outputDir  string
	sampleRate int
	chunk      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "localhost:8080", "server host:port")
	flag.StringVar(&opts.token, "token", os.Getenv("INTERPRETER_TOKEN"), "bearer token for /ws")
	flag.StringVar(&opts.source, "source", "es", "source language")
	flag.StringVar(&opts.target, "target", "en", "target language")
	flag.StringVar(&opts.input, "input", "", "raw 16-bit mono PCM file to stream")
	flag.StringVar(&opts.outputDir, "out", "audio_responses", "directory for received segment audio")
	flag.IntVar(&opts.sampleRate, "rate", 16000, "input sample rate")
	flag.DurationVar(&opts.chunk, "chunk", 100*time.Millisecond, "audio per binary frame")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if opts.input == "" {
		logger.Fatal("-input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("Client failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	audio, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	u := url.URL{Scheme: "ws", Host: opts.addr, Path: "/ws"}
	u.RawQuery = url.Values{"source": {opts.source}, "target": {opts.target}}.Encode()
	headers := http.Header{}
	if opts.token != "" {
		headers.Set("Authorization", "Bearer "+opts.token)
	}

	logger.Info("Connecting", zap.String("url", u.String()))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	receiver := newReceiver(opts.outputDir, logger)
	done := make(chan error, 1)
	go func() { done <- receiver.run(conn) }()

	if err := stream(ctx, conn, audio, chunkSize(opts.sampleRate, opts.chunk), opts.chunk, logger); err != nil {
		return err
	}

	select {
	case err := <-done:
		logger.Info("Session finished", zap.Int("segments", receiver.segments))
		return err
	case <-ctx.Done():
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
}

// stream paces audio in real time, then ends the utterance and asks the
// server to drain
func stream(ctx context.Context, conn *websocket.Conn, audio []byte, size int, interval time.Duration, logger *zap.Logger) error {
	if err := conn.WriteJSON(map[string]string{"type": "begin_utterance"}); err != nil {
		return fmt.Errorf("begin utterance: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	chunks := split(audio, size)
	logger.Info("Streaming audio", zap.Int("bytes", len(audio)), zap.Int("chunks", len(chunks)))
	for _, chunk := range chunks {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}

	if err := conn.WriteJSON(map[string]string{"type": "end_utterance"}); err != nil {
		return fmt.Errorf("end utterance: %w", err)
	}
	return conn.WriteJSON(map[string]string{"type": "close"})
}

// chunkSize is the byte length of interval worth of 16-bit mono audio
func chunkSize(sampleRate int, interval time.Duration) int {
	size := int(int64(sampleRate) * 2 * int64(interval) / int64(time.Second))
	if size < 2 {
		return 2
	}
	return size &^ 1
}

func split(audio []byte, size int) [][]byte {
	var chunks [][]byte
	for start := 0; start < len(audio); start += size {
		end := min(start+size, len(audio))
		chunks = append(chunks, audio[start:end])
	}
	return chunks
}
