package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

const defaultOpenAIURL = "https://api.hyperbolic.xyz/v1/chat/completions"

// OpenAIConfig holds configuration for an OpenAI-compatible completions endpoint
type OpenAIConfig struct {
	APIURL string
	APIKey string
}

// NewOpenAIConfigFromEnv creates a config from environment variables
func NewOpenAIConfigFromEnv() *OpenAIConfig {
	config := &OpenAIConfig{
		APIURL: os.Getenv("LLM_API_URL"),
		APIKey: os.Getenv("LLM_API_KEY"),
	}
	if config.APIURL == "" {
		config.APIURL = defaultOpenAIURL
	}
	return config
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config *OpenAIConfig) error {
	if config.APIURL == "" {
		return fmt.Errorf("LLM_API_URL is required")
	}
	if config.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}

// OpenAIStreamClient streams chat completions from an OpenAI-compatible API
type OpenAIStreamClient struct {
	config     *OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIStreamClient creates a new streaming completions client
func NewOpenAIStreamClient(config *OpenAIConfig, httpClient *http.Client, logger *zap.Logger) (*OpenAIStreamClient, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, fmt.Errorf("invalid completions config: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIStreamClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	Stream      bool            `json:"stream"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamChat posts the request and returns the fragment stream
func (c *OpenAIStreamClient) StreamChat(ctx context.Context, req repositories.ChatRequest) (repositories.ChatStream, error) {
	body, err := json.Marshal(buildOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: completion request: %v", domain.ErrProviderConnection, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: completion status %d: %s", domain.ErrProviderConnection, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("Completion stream opened",
		zap.String("model", req.Sampling.Model),
		zap.Int("priorMessages", len(req.PriorMessages)))

	return &openAIStream{
		body:   resp.Body,
		parser: newSSEParser(resp.Body),
	}, nil
}

func buildOpenAIRequest(req repositories.ChatRequest) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.PriorMessages)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.PriorMessages {
		role := "user"
		if m.Role == entities.MessageRoleAssistant {
			role = "assistant"
		}
		messages = append(messages, openAIMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.NewUserMessage})

	return openAIRequest{
		Model:       req.Sampling.Model,
		Messages:    messages,
		MaxTokens:   req.Sampling.MaxTokens,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
		Stream:      true,
	}
}

// openAIStream decodes `data:` records into content fragments
type openAIStream struct {
	body      io.ReadCloser
	parser    *sseParser
	done      bool
	closeOnce sync.Once
}

func (s *openAIStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		data, err := s.parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: stream ended before %s", domain.ErrProviderConnection, sseDone)
			}
			return "", fmt.Errorf("%w: read stream: %v", domain.ErrProviderConnection, err)
		}

		if strings.TrimSpace(data) == sseDone {
			s.done = true
			s.Close()
			return "", io.EOF
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrParse, err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%w: provider error: %s", domain.ErrProviderConnection, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
