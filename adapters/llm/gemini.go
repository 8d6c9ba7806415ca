package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/tutorloop/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.9
	defaultTopK           = 40
	defaultMaxTokens      = 2048
	defaultTimeoutSeconds = 60
	defaultRetryAttempts  = 3
)

// GeminiConfig holds configuration for the Gemini chat completion adapter
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int // Bounds the wait for the first streamed response
}

// NewGeminiConfigFromEnv creates a config from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_TIMEOUT_SECONDS")); err == nil {
		config.TimeoutSeconds = v
	}
	return config
}

// GeminiSafetySettings are applied to every request
var GeminiSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// GeminiChatCompletion implements ChatCompletion using Google's Gemini API
type GeminiChatCompletion struct {
	client *genai.Client
	logger *zap.Logger
	config GeminiConfig
}

// NewGeminiChatCompletion creates a new Gemini streaming adapter
func NewGeminiChatCompletion(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiChatCompletion, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiChatCompletion{
		client: client,
		logger: logger,
		config: applyGeminiDefaults(config, logger),
	}, nil
}

// StreamChat starts a streaming generation for the request
func (g *GeminiChatCompletion) StreamChat(ctx context.Context, req repositories.ChatRequest) (repositories.ChatStream, error) {
	return newGeminiChatStream(ctx, g.client, g.config, g.logger, req)
}

func applyGeminiDefaults(config GeminiConfig, logger *zap.Logger) GeminiConfig {
	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.Temperature == 0 {
		config.Temperature = float32(defaultTemperature)
	}
	if config.TopP == 0 {
		config.TopP = float32(defaultTopP)
	}
	if config.TopK == 0 {
		config.TopK = float32(defaultTopK)
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaultMaxTokens
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
	}
	return config
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}
