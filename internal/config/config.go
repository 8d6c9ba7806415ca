// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names
const (
	ProviderMock       = "mock"
	ProviderDeepgram   = "deepgram"
	ProviderGoogle     = "google"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"

	StoreHTTP   = "http"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port     string
	LogLevel string

	STTProvider          string
	STTLanguage          string
	STTSampleRate        int
	STTEncoding          string
	TranscriptionTimeout time.Duration

	LLMProvider    string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTopP        float64

	ContextStore    string
	ContextStoreURL string
	MongoURI        string
	MongoDatabase   string

	TTSProvider string

	EmotionServiceURL     string
	EmotionSampleInterval time.Duration
	EmotionReconnectDelay time.Duration
	EmotionAlertPolicy    string

	ShutdownTimeout time.Duration
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		STTProvider:          strings.ToLower(getEnv("STT_PROVIDER", ProviderMock)),
		STTLanguage:          getEnv("STT_LANGUAGE", "en-US"),
		STTSampleRate:        getIntEnv("STT_SAMPLE_RATE", 16000),
		STTEncoding:          strings.ToUpper(getEnv("STT_ENCODING", "LINEAR16")),
		TranscriptionTimeout: getDurationEnv("TRANSCRIPTION_TIMEOUT", 0),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderMock)),
		LLMModel:       getEnv("LLM_MODEL", "meta-llama/Meta-Llama-3.1-70B-Instruct"),
		LLMMaxTokens:   getIntEnv("LLM_MAX_TOKENS", 512),
		LLMTemperature: getFloatEnv("LLM_TEMPERATURE", 0.1),
		LLMTopP:        getFloatEnv("LLM_TOP_P", 0.9),

		ContextStore:    strings.ToLower(getEnv("CONTEXT_STORE", StoreMemory)),
		ContextStoreURL: getEnv("CONTEXT_STORE_URL", "http://localhost:8000"),
		MongoURI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGODB_DATABASE", "tutorloop"),

		TTSProvider: strings.ToLower(getEnv("TTS_PROVIDER", ProviderMock)),

		EmotionServiceURL:     getEnv("EMOTION_SERVICE_URL", ""),
		EmotionSampleInterval: getDurationEnv("EMOTION_SAMPLE_INTERVAL", 5*time.Second),
		EmotionReconnectDelay: getDurationEnv("EMOTION_RECONNECT_DELAY", time.Second),
		EmotionAlertPolicy:    strings.ToLower(getEnv("EMOTION_ALERT_POLICY", "per_frame")),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks provider names and numeric ranges
func (c *Config) Validate() error {
	if err := oneOf("STT_PROVIDER", c.STTProvider, ProviderDeepgram, ProviderGoogle, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("LLM_PROVIDER", c.LLMProvider, ProviderOpenAI, ProviderGemini, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("CONTEXT_STORE", c.ContextStore, StoreHTTP, StoreMongo, StoreMemory); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, ProviderElevenLabs, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("EMOTION_ALERT_POLICY", c.EmotionAlertPolicy, "per_frame", "edge"); err != nil {
		return err
	}

	if c.STTSampleRate < 8000 || c.STTSampleRate > 48000 {
		return fmt.Errorf("STT_SAMPLE_RATE must be between 8000 and 48000")
	}
	if c.TranscriptionTimeout < 0 {
		return fmt.Errorf("TRANSCRIPTION_TIMEOUT must be >= 0")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.LLMTopP <= 0 || c.LLMTopP > 1 {
		return fmt.Errorf("LLM_TOP_P must be in (0, 1]")
	}
	if c.EmotionSampleInterval <= 0 {
		return fmt.Errorf("EMOTION_SAMPLE_INTERVAL must be > 0")
	}
	if c.EmotionReconnectDelay < 0 {
		return fmt.Errorf("EMOTION_RECONNECT_DELAY must be >= 0")
	}
	return nil
}

// EmotionEnabled reports whether an emotion service is configured
func (c *Config) EmotionEnabled() bool {
	return c.EmotionServiceURL != ""
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", key, strings.Join(allowed, "|"))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

// getDurationEnv accepts Go durations ("1500ms") or plain seconds ("5")
func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
