package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MockTextToSpeech emits silent PCM chunks proportional to the text length
type MockTextToSpeech struct {
	logger *zap.Logger

	mu    sync.Mutex
	texts []string
}

// NewMockTextToSpeech creates a mock renderer
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{logger: logger}
}

func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	chunks := len(strings.Fields(text))/8 + 1
	out := make(chan []byte, chunks)
	for i := 0; i < chunks; i++ {
		out <- make([]byte, 320)
	}
	close(out)

	m.logger.Debug("Mock speech rendered", zap.Int("chunks", chunks))
	return out, nil
}

// Texts returns every text rendered so far
func (m *MockTextToSpeech) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}
