package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
)

// BufferConfig controls how inbound audio is cut into windows
type BufferConfig struct {
	// WindowBytes cuts a window once this much audio is pending
	WindowBytes int `yaml:"window_bytes"`
	// MaxWindowDelay cuts a window once the oldest pending audio is this old
	MaxWindowDelay time.Duration `yaml:"max_window_delay"`
	// MaxBufferedBytes bounds audio held by the buffer, pending and queued
	MaxBufferedBytes int `yaml:"max_buffered_bytes"`
}

// FrameBuffer accumulates raw audio chunks into windows for the
// transcription stage. Ingest never blocks.
type FrameBuffer struct {
	config BufferConfig
	logger *zap.Logger

	mu           sync.Mutex
	pending      []byte
	pendingSince time.Time
	queue        []entities.AudioWindow
	buffered     int
	paused       bool
	closed       bool

	notify chan struct{}
	out    chan entities.AudioWindow
}

// NewFrameBuffer creates a buffer. Windows are delivered on Windows() once
// Run is started.
func NewFrameBuffer(config BufferConfig, logger *zap.Logger) *FrameBuffer {
	if config.WindowBytes <= 0 {
		config.WindowBytes = 3200
	}
	if config.MaxWindowDelay <= 0 {
		config.MaxWindowDelay = 100 * time.Millisecond
	}
	if config.MaxBufferedBytes < config.WindowBytes {
		config.MaxBufferedBytes = config.WindowBytes * 64
	}
	return &FrameBuffer{
		config: config,
		logger: logger,
		notify: make(chan struct{}, 1),
		out:    make(chan entities.AudioWindow),
	}
}

// Windows returns the channel windows are emitted on. It is closed when Run
// returns.
func (b *FrameBuffer) Windows() <-chan entities.AudioWindow {
	return b.out
}

// Ingest appends a chunk. Chunks that would exceed the byte budget are
// dropped and reported with an error wrapping domain.ErrOverflow.
func (b *FrameBuffer) Ingest(chunk entities.AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("ingest after close: %w", domain.ErrSessionClosed)
	}
	if b.buffered+len(chunk.Data) > b.config.MaxBufferedBytes {
		return fmt.Errorf("%w: dropped %d bytes, %d buffered", domain.ErrOverflow, len(chunk.Data), b.buffered)
	}

	if len(b.pending) == 0 {
		b.pendingSince = chunk.Timestamp
		if b.pendingSince.IsZero() {
			b.pendingSince = time.Now()
		}
	}
	b.pending = append(b.pending, chunk.Data...)
	b.buffered += len(chunk.Data)

	if len(b.pending) >= b.config.WindowBytes {
		b.cutLocked(false)
	}
	return nil
}

// Flush cuts whatever is pending into a window marked as end of utterance.
// The window is emitted even when empty so the recognizer can finalize.
func (b *FrameBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.cutLocked(true)
}

// Pause holds windows in the buffer instead of forwarding them
func (b *FrameBuffer) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume forwards held windows again
func (b *FrameBuffer) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.signal()
}

// Paused reports whether forwarding is suspended
func (b *FrameBuffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Buffered returns the number of bytes held
func (b *FrameBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered
}

// Close stops accepting audio. Run forwards the remainder, ignoring pause,
// and then closes Windows().
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.cutLocked(false)
		b.logger.Debug("Frame buffer closed", zap.Int("bufferedBytes", b.buffered), zap.Int("queuedWindows", len(b.queue)))
	}
	b.mu.Unlock()
	b.signal()
}

// Run forwards windows until Close has been called and everything is
// delivered, or ctx is cancelled.
func (b *FrameBuffer) Run(ctx context.Context) error {
	defer close(b.out)

	ticker := time.NewTicker(b.config.MaxWindowDelay / 2)
	defer ticker.Stop()

	for {
		window, ok, done := b.next()
		if done {
			return nil
		}
		if ok {
			select {
			case b.out <- window:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-b.notify:
		case now := <-ticker.C:
			b.cutStale(now)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *FrameBuffer) next() (window entities.AudioWindow, ok, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) > 0 && (!b.paused || b.closed) {
		window = b.queue[0]
		b.queue[0] = entities.AudioWindow{}
		b.queue = b.queue[1:]
		b.buffered -= len(window.Data)
		return window, true, false
	}
	return window, false, b.closed && len(b.queue) == 0
}

func (b *FrameBuffer) cutStale(now time.Time) {
	b.mu.Lock()
	cut := len(b.pending) > 0 && now.Sub(b.pendingSince) >= b.config.MaxWindowDelay
	if cut {
		b.cutLocked(false)
	}
	b.mu.Unlock()
	if cut {
		b.signal()
	}
}

// cutLocked moves pending audio into the queue. Callers hold mu.
func (b *FrameBuffer) cutLocked(endOfUtterance bool) {
	if len(b.pending) == 0 && !endOfUtterance {
		return
	}
	b.queue = append(b.queue, entities.AudioWindow{
		Data:           b.pending,
		StartedAt:      b.pendingSince,
		EndOfUtterance: endOfUtterance,
	})
	b.pending = nil
	b.pendingSince = time.Time{}
	b.signal()
}

func (b *FrameBuffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
