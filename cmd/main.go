package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/adapters/contextstore"
	"github.com/satriahrh/tutorloop/adapters/llm"
	"github.com/satriahrh/tutorloop/adapters/mongo"
	"github.com/satriahrh/tutorloop/adapters/stt"
	"github.com/satriahrh/tutorloop/adapters/tts"
	"github.com/satriahrh/tutorloop/domain/repositories"
	"github.com/satriahrh/tutorloop/internal/api"
	"github.com/satriahrh/tutorloop/internal/config"
	"github.com/satriahrh/tutorloop/internal/emotion"
	"github.com/satriahrh/tutorloop/internal/websocket"
	"github.com/satriahrh/tutorloop/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewProduction()
	if cfg.LogLevel == "debug" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 60 * time.Second}

	// Initialize adapters
	speechToText, err := newSpeechToText(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech-to-text", zap.Error(err))
	}
	chatCompletion, err := newChatCompletion(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize chat completion", zap.Error(err))
	}
	textToSpeech, err := newTextToSpeech(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize text-to-speech", zap.Error(err))
	}
	store, closeStore, err := newContextStore(ctx, cfg, httpClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize context store", zap.Error(err))
	}
	defer closeStore()

	// Initialize usecase services
	chatService := usecase.NewChatService(chatCompletion, store, repositories.SamplingConfig{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
	}, logger)
	conversationService := usecase.NewConversationService(chatService, logger)
	documentService := usecase.NewDocumentService(store, logger)

	hubConfig := websocket.HubConfig{
		Audio: repositories.AudioConfig{
			SampleRate: cfg.STTSampleRate,
			Encoding:   cfg.STTEncoding,
			Language:   cfg.STTLanguage,
		},
		TranscriptionTimeout: cfg.TranscriptionTimeout,
	}
	if cfg.EmotionEnabled() {
		reconnectDelay := cfg.EmotionReconnectDelay
		if reconnectDelay == 0 {
			reconnectDelay = emotion.ImmediateReconnect
		}
		hubConfig.Emotion = &emotion.Config{
			URL:            cfg.EmotionServiceURL,
			SampleInterval: cfg.EmotionSampleInterval,
			ReconnectDelay: reconnectDelay,
			AlertPolicy:    emotion.ParseAlertPolicy(cfg.EmotionAlertPolicy),
		}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(conversationService, speechToText, textToSpeech, hubConfig, logger)
	go hub.Run(hubCtx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, documentService, conversationService, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("stt", cfg.STTProvider),
		zap.String("llm", cfg.LLMProvider),
		zap.String("contextStore", cfg.ContextStore),
		zap.String("tts", cfg.TTSProvider),
		zap.Bool("emotion", cfg.EmotionEnabled()))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newSpeechToText(cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch cfg.STTProvider {
	case config.ProviderDeepgram:
		return stt.NewDeepgramSpeechToText(stt.NewDeepgramConfigFromEnv(), logger)
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(logger), nil
	default:
		return stt.NewMockSpeechToText(logger), nil
	}
}

func newChatCompletion(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ChatCompletion, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIStreamClient(llm.NewOpenAIConfigFromEnv(), &http.Client{}, logger)
	case config.ProviderGemini:
		return llm.NewGeminiChatCompletion(ctx, llm.NewGeminiConfigFromEnv(), logger)
	default:
		return llm.NewMockChatCompletion(), nil
	}
}

func newTextToSpeech(cfg *config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.TTSProvider {
	case config.ProviderElevenLabs:
		return tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), &http.Client{}, logger)
	default:
		return tts.NewMockTextToSpeech(logger), nil
	}
}

func newContextStore(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *zap.Logger) (repositories.ContextStore, func(), error) {
	switch cfg.ContextStore {
	case config.StoreHTTP:
		return contextstore.NewHTTPContextStore(cfg.ContextStoreURL, httpClient, logger), func() {}, nil
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(closeCtx)
		}
		store, err := mongo.NewContextStore(ctx, client.Database, logger)
		if err != nil {
			closeClient()
			return nil, nil, err
		}
		return store, closeClient, nil
	default:
		return contextstore.NewMemoryContextStore(), func() {}, nil
	}
}
