package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain/entities"
)

// ConversationService keeps the live conversations of connected learners and
// routes their messages to the chat service
type ConversationService struct {
	chatService *ChatService
	logger      *zap.Logger

	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
}

// NewConversationService creates a new conversation service
func NewConversationService(chatService *ChatService, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		chatService:   chatService,
		logger:        logger,
		conversations: make(map[string]*entities.Conversation),
	}
}

// Open creates and tracks a new conversation
func (s *ConversationService) Open() *entities.Conversation {
	conv := entities.NewConversation()

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("Conversation opened", zap.String("conversationID", conv.ID))
	return conv
}

// Close forgets a conversation. Its history is not kept.
func (s *ConversationService) Close(id string) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()

	if ok {
		s.logger.Info("Conversation closed",
			zap.String("conversationID", id),
			zap.Int("messages", conv.Len()))
	}
}

// Snapshot returns a copy of a tracked conversation
func (s *ConversationService) Snapshot(id string) (entities.ConversationSnapshot, bool) {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()

	if !ok {
		return entities.ConversationSnapshot{}, false
	}
	return conv.Snapshot(), true
}

// Count returns the number of tracked conversations
func (s *ConversationService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Respond sends userText as the next turn of conv
func (s *ConversationService) Respond(ctx context.Context, conv *entities.Conversation, userText string, opts TurnOptions) (entities.Message, error) {
	return s.chatService.SendMessage(ctx, conv, userText, opts)
}
