package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
	"github.com/satriahrh/interpreter/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Outbound frames queued per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HubConfig holds connection defaults
type HubConfig struct {
	DefaultSourceLanguage string
	DefaultTargetLanguage string
	SampleRate            int
	Encoding              string
}

// Hub upgrades connections and runs one session per client. It keeps no
// registry of sessions; it only tracks how many are running so shutdown can
// wait for them.
type Hub struct {
	service *usecase.InterpreterService
	config  HubConfig
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
}

// NewHub creates a new WebSocket hub
func NewHub(service *usecase.InterpreterService, config HubConfig, logger *zap.Logger) *Hub {
	if config.DefaultSourceLanguage == "" {
		config.DefaultSourceLanguage = "es"
	}
	if config.DefaultTargetLanguage == "" {
		config.DefaultTargetLanguage = "en"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Encoding == "" {
		config.Encoding = entities.EncodingLinear16
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Hub{
		service: service,
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Shutdown ends every running session with a server_shutdown error and
// waits for them to close
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel(usecase.ErrServerShutdown)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client is a middleman between the websocket connection and its session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writePump stops
	// on finished or when the connection fails.
	send chan WriteData

	// done is closed once the connection can no longer be read.
	done chan struct{}

	// finished is closed once the session has reached its terminal state.
	finished chan struct{}

	clientID  string
	session   *usecase.SessionOrchestrator
	validator *MessageValidator
	logger    *zap.Logger
}

// HandleWebSocket upgrades the request and serves a session for clientID.
// The language pair comes from the source and target query parameters.
func (h *Hub) HandleWebSocket(c echo.Context, clientID string) error {
	if err := h.ctx.Err(); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	source := queryLanguage(c, "source", h.config.DefaultSourceLanguage)
	target := queryLanguage(c, "target", h.config.DefaultTargetLanguage)
	if !validLanguageTag(source) || !validLanguageTag(target) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid language code")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan WriteData, sendBufferSize),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		clientID:  clientID,
		validator: NewMessageValidator(),
	}
	client.session = h.service.NewSession(source, target, client)
	client.logger = h.logger.With(
		zap.String("clientID", clientID),
		zap.String("sessionID", client.session.Session().ID))

	h.wg.Add(1)
	go client.serve()

	return nil
}

func queryLanguage(c echo.Context, name, fallback string) string {
	lang := strings.ToLower(strings.TrimSpace(c.QueryParam(name)))
	if lang == "" {
		return fallback
	}
	return lang
}

// Publish queues an event for the client. It fails once the connection is
// gone instead of blocking, and queues nothing for a cancelled ctx.
func (c *Client) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frames, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		select {
		case c.send <- frame:
		case <-c.done:
			return domain.ErrSessionClosed
		case <-c.finished:
			return domain.ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// serve runs the session for the lifetime of the connection
func (c *Client) serve() {
	defer c.hub.wg.Done()

	ctx, cancel := context.WithCancelCause(c.hub.ctx)
	defer cancel(nil)

	writerDone := make(chan struct{})
	go func() {
		c.writePump()
		close(writerDone)
	}()
	go c.readPump(cancel)

	c.logger.Info("Client connected")
	if err := c.session.Run(ctx); err != nil {
		c.logger.Warn("Session ended with error", zap.Error(err))
	}

	close(c.finished)
	<-writerDone
	c.logger.Info("Client disconnected")
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump(cancel context.CancelCauseFunc) {
	defer func() {
		close(c.done)
		cancel(usecase.ErrClientDisconnected)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
// Once the session has finished it flushes what is queued and closes the
// connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.finished:
			for len(c.send) > 0 {
				if err := c.write(<-c.send); err != nil {
					return
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return

		case <-c.done:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(message WriteData) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(message.Type, message.Payload)
}

// processMessage handles a control message from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.rejectMessage(err)
		return
	}

	switch msg.Type {
	case MessageTypeBeginUtterance:
		err = c.session.BeginUtterance()
	case MessageTypeEndUtterance:
		err = c.session.EndUtterance()
	case MessageTypeSetLanguagePair:
		err = c.session.SetLanguagePair(msg.Source, msg.Target)
	case MessageTypeClose:
		c.logger.Info("Client requested close")
		c.session.Close()
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrProtocolViolation):
		c.rejectMessage(err)
	default:
		c.logger.Debug("Control message ignored", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (c *Client) rejectMessage(err error) {
	c.logger.Warn("Rejected client message", zap.Error(err))
	publishErr := c.Publish(context.Background(), domain.Notice{
		Code:    domain.NoticeProtocolViolation,
		Message: err.Error(),
	})
	if publishErr != nil {
		c.logger.Debug("Failed to send protocol notice", zap.Error(publishErr))
	}
}

// processBinaryAudioChunk hands binary audio data to the session
func (c *Client) processBinaryAudioChunk(data []byte) {
	err := c.session.IngestAudio(entities.AudioChunk{
		Data:       data,
		Timestamp:  time.Now(),
		SampleRate: c.hub.config.SampleRate,
		Encoding:   c.hub.config.Encoding,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOverflow):
		// reported to the client by the session
	default:
		c.logger.Debug("Audio chunk ignored", zap.Int("size", len(data)), zap.Error(err))
	}
}
