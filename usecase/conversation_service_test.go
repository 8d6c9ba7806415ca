package usecase

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/tutorloop/adapters/llm"
)

func TestConversationService_Lifecycle(t *testing.T) {
	logger := zaptest.NewLogger(t)
	chat := NewChatService(llm.NewMockChatCompletion("Sure."), nil, testSampling, logger)
	service := NewConversationService(chat, logger)

	conv := service.Open()
	if service.Count() != 1 {
		t.Errorf("Expected 1 conversation, got %d", service.Count())
	}

	if _, err := service.Respond(context.Background(), conv, "Teach me", TurnOptions{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	snap, ok := service.Snapshot(conv.ID)
	if !ok {
		t.Fatal("Expected snapshot to exist")
	}
	if len(snap.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(snap.Messages))
	}

	service.Close(conv.ID)
	if _, ok := service.Snapshot(conv.ID); ok {
		t.Error("Expected conversation to be forgotten")
	}
}
