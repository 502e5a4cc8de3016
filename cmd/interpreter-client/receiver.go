package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	ws "github.com/satriahrh/interpreter/internal/websocket"
)

// receiver prints server events and writes each segment's audio frame to
// its own file
type receiver struct {
	dir      string
	pending  *ws.SegmentAudioMessage
	segments int
	logger   *zap.Logger
}

func newReceiver(dir string, logger *zap.Logger) *receiver {
	return &receiver{dir: dir, logger: logger}
}

func (r *receiver) run(conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch messageType {
		case websocket.TextMessage:
			if err := r.handleText(data); err != nil {
				return err
			}
		case websocket.BinaryMessage:
			if err := r.handleAudio(data); err != nil {
				return err
			}
		}
	}
}

func (r *receiver) handleText(data []byte) error {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		r.logger.Warn("Unparseable frame", zap.ByteString("frame", data))
		return nil
	}

	switch base.Type {
	case ws.MessageTypeSegmentAudio:
		var msg ws.SegmentAudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode segment header: %w", err)
		}
		r.logger.Info("Segment",
			zap.Uint64("seq", msg.Sequence),
			zap.String("text", msg.Text),
			zap.String("translation", msg.Translation),
			zap.Bool("degraded", msg.Degraded))
		if msg.Bytes > 0 {
			r.pending = &msg
		}
	case ws.MessageTypeError:
		var msg ws.ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode error frame: %w", err)
		}
		return fmt.Errorf("server error %s: %s", msg.Code, msg.Message)
	default:
		r.logger.Info("Event", zap.String("type", string(base.Type)), zap.ByteString("frame", data))
	}
	return nil
}

func (r *receiver) handleAudio(data []byte) error {
	if r.pending == nil {
		return errors.New("audio frame without segment header")
	}
	header := r.pending
	r.pending = nil

	name := filepath.Join(r.dir, fmt.Sprintf("segment_%04d.%s", header.Sequence, extension(header.Encoding)))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write segment audio: %w", err)
	}
	r.segments++
	r.logger.Info("Saved segment audio", zap.String("file", name), zap.Int("bytes", len(data)))
	return nil
}

func extension(encoding string) string {
	switch encoding {
	case "mp3":
		return "mp3"
	case "":
		return "bin"
	default:
		return "raw"
	}
}
