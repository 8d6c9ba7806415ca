package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/satriahrh/tutorloop/domain/repositories"
)

// MockFragment is one scripted stream item. A non-nil Err is returned in
// place of text.
type MockFragment struct {
	Text string
	Err  error
}

// MockChatCompletion replays scripted fragments and records requests
type MockChatCompletion struct {
	mu       sync.Mutex
	script   []MockFragment
	openErr  error
	requests []repositories.ChatRequest
}

// NewMockChatCompletion creates a mock that streams fragments in order.
// Without fragments it answers with a short canned tutoring reply.
func NewMockChatCompletion(fragments ...string) *MockChatCompletion {
	script := make([]MockFragment, 0, len(fragments))
	for _, f := range fragments {
		script = append(script, MockFragment{Text: f})
	}
	return &MockChatCompletion{script: script}
}

// WithScript replaces the script with explicit items
func (m *MockChatCompletion) WithScript(items ...MockFragment) *MockChatCompletion {
	m.script = items
	return m
}

// FailOpen makes StreamChat fail with err
func (m *MockChatCompletion) FailOpen(err error) *MockChatCompletion {
	m.openErr = err
	return m
}

// Requests returns the requests received so far
func (m *MockChatCompletion) Requests() []repositories.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repositories.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockChatCompletion) StreamChat(ctx context.Context, req repositories.ChatRequest) (repositories.ChatStream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}

	script := m.script
	if len(script) == 0 {
		script = cannedReply(req.NewUserMessage)
	}
	return &mockChatStream{items: script}, nil
}

func cannedReply(question string) []MockFragment {
	reply := fmt.Sprintf("Great question! Let's break %q into simple pieces, then you explain it back to me.", question)
	words := strings.SplitAfter(reply, " ")
	items := make([]MockFragment, 0, len(words))
	for _, w := range words {
		items = append(items, MockFragment{Text: w})
	}
	return items
}

type mockChatStream struct {
	items []MockFragment
	pos   int
}

func (s *mockChatStream) Next() (string, error) {
	if s.pos >= len(s.items) {
		return "", io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	if item.Err != nil {
		return "", item.Err
	}
	return item.Text, nil
}

func (s *mockChatStream) Close() error {
	return nil
}
