package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

// GeminiChatStream pulls fragments from a GenerateContentStream iterator
type GeminiChatStream struct {
	logger *zap.Logger
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	// first holds text already pulled while establishing the stream
	first     string
	done      bool
	closeOnce sync.Once
}

func newGeminiChatStream(ctx context.Context, client *genai.Client, config GeminiConfig, logger *zap.Logger, req repositories.ChatRequest) (*GeminiChatStream, error) {
	contents := convertMessagesToGeminiFormat(req.PriorMessages)
	contents = append(contents, genai.NewContentFromText(req.NewUserMessage, genai.RoleUser))

	genConfig := &genai.GenerateContentConfig{
		SafetySettings:  GeminiSafetySettings,
		Temperature:     genai.Ptr(pickFloat32(req.Sampling.Temperature, config.Temperature)),
		TopP:            genai.Ptr(pickFloat32(req.Sampling.TopP, config.TopP)),
		TopK:            genai.Ptr(config.TopK),
		MaxOutputTokens: int32(pickInt(req.Sampling.MaxTokens, config.MaxOutputTokens)),
	}
	if req.SystemInstruction != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	// Retry only while nothing has been received yet
	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		// The timeout bounds the wait for the first response, not the whole reply
		streamCtx, cancel := context.WithCancel(ctx)
		disarm := armFirstChunkDeadline(time.Duration(config.TimeoutSeconds)*time.Second, cancel)
		next, stop := iter.Pull2(client.Models.GenerateContentStream(streamCtx, config.Model, contents, genConfig))

		s := &GeminiChatStream{logger: logger, next: next, stop: stop, cancel: cancel}
		resp, err, ok := next()
		disarm()
		if !ok {
			s.done = true
			return s, nil
		}
		if err == nil {
			s.first = responseText(resp)
			return s, nil
		}

		stop()
		cancel()
		lastErr = err
		logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < defaultRetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrProviderConnection, ctx.Err())
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("%w: gemini stream: %v", domain.ErrProviderConnection, lastErr)
}

// armFirstChunkDeadline cancels the stream when timeout elapses. The returned
// func disarms the timer and reports whether it had already fired.
func armFirstChunkDeadline(timeout time.Duration, cancel context.CancelFunc) func() bool {
	if timeout <= 0 {
		return func() bool { return false }
	}
	timer := time.AfterFunc(timeout, cancel)
	return func() bool { return !timer.Stop() }
}

// Next returns the next non-empty fragment
func (s *GeminiChatStream) Next() (string, error) {
	if s.first != "" {
		text := s.first
		s.first = ""
		return text, nil
	}

	for !s.done {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return "", fmt.Errorf("%w: gemini stream: %v", domain.ErrProviderConnection, err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}

	s.Close()
	return "", io.EOF
}

func (s *GeminiChatStream) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		s.cancel()
	})
	return nil
}

// responseText extracts text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// convertMessagesToGeminiFormat converts conversation messages to Gemini format
func convertMessagesToGeminiFormat(messages []entities.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)

	for _, msg := range messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == entities.MessageRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

func pickFloat32(v float64, fallback float32) float32 {
	if v == 0 {
		return fallback
	}
	return float32(v)
}

func pickInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
