package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/adapters/httpclient"
	"github.com/satriahrh/interpreter/adapters/stt"
	"github.com/satriahrh/interpreter/adapters/translation"
	"github.com/satriahrh/interpreter/adapters/tts"
	"github.com/satriahrh/interpreter/domain/repositories"
	"github.com/satriahrh/interpreter/internal/api"
	"github.com/satriahrh/interpreter/internal/auth"
	"github.com/satriahrh/interpreter/internal/config"
	"github.com/satriahrh/interpreter/internal/metrics"
	ws "github.com/satriahrh/interpreter/internal/websocket"
	"github.com/satriahrh/interpreter/usecase"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := context.Background()

	// Initialize adapters
	httpClient := httpclient.New(cfg.HTTPClient)
	speechToText, closeSTT, err := newSpeechToText(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech-to-text", zap.Error(err))
	}
	defer closeSTT()

	translator, err := newTranslator(ctx, cfg, httpClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize translator", zap.Error(err))
	}

	textToSpeech, err := newTextToSpeech(cfg, httpClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize text-to-speech", zap.Error(err))
	}

	// Initialize usecase services
	interpreterService := usecase.NewInterpreterService(
		speechToText,
		translator,
		textToSpeech,
		cfg.Session,
		metrics.New(registry),
		logger,
	)

	// Initialize WebSocket hub with interpreter service
	hub := ws.NewHub(interpreterService, ws.HubConfig{
		DefaultSourceLanguage: cfg.Languages.DefaultSource,
		DefaultTargetLanguage: cfg.Languages.DefaultTarget,
		SampleRate:            cfg.Session.Transcription.SampleRate,
		Encoding:              cfg.Session.Transcription.Encoding,
	}, logger)

	var authenticator *auth.Authenticator
	if cfg.Server.JWTSecret != "" {
		authenticator = auth.NewAuthenticator(cfg.Server.JWTSecret, 0)
	} else {
		logger.Warn("JWT_SECRET not set, /ws accepts unauthenticated connections")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, authenticator, registry, logger)

	port := strconv.Itoa(cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Interpreter server started",
		zap.String("port", port),
		zap.String("stt", speechToText.Name()),
		zap.String("translation", translator.Name()),
		zap.String("tts", textToSpeech.Name()))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Sessions end first so clients receive their server_shutdown error
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("Sessions did not close in time", zap.Error(err))
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newSpeechToText(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, func(), error) {
	noop := func() {}
	switch cfg.Providers.STT {
	case config.ProviderDeepgram:
		dialer := &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		}
		s, err := stt.NewDeepgramSpeechToText(cfg.Deepgram.STT, dialer, logger.Named("deepgram"))
		return s, noop, err
	case config.ProviderGoogle:
		s, err := stt.NewGoogleSpeechToText(ctx, cfg.Google, logger.Named("google"))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	default:
		return stt.NewMockSpeechToText(logger.Named("mock-stt")), noop, nil
	}
}

func newTranslator(ctx context.Context, cfg *config.Config, client *http.Client, logger *zap.Logger) (repositories.Translator, error) {
	switch cfg.Providers.Translation {
	case config.ProviderGroq:
		return translation.NewGroqTranslator(cfg.Groq, client, logger.Named("groq"))
	case config.ProviderGemini:
		return translation.NewGeminiTranslator(ctx, cfg.Gemini, client, logger.Named("gemini"))
	default:
		return translation.NewMockTranslator(logger.Named("mock-translation")), nil
	}
}

func newTextToSpeech(cfg *config.Config, client *http.Client, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Providers.TTS {
	case config.ProviderDeepgram:
		return tts.NewDeepgramTTS(cfg.Deepgram.TTS, client, logger.Named("deepgram"))
	case config.ProviderElevenLabs:
		return tts.NewElevenLabsTTS(cfg.ElevenLabs, client, logger.Named("elevenlabs"))
	default:
		return tts.NewMockTextToSpeech(cfg.Session.Transcription.SampleRate, logger.Named("mock-tts")), nil
	}
}
