package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

// SpeechRenderer reads text aloud without blocking the caller
type SpeechRenderer interface {
	Speak(text string)
}

// TurnOptions carries per-turn hooks
type TurnOptions struct {
	// OnDelta receives each fragment as it arrives, before the reply is final.
	OnDelta func(fragment string)
	// Speaker renders the finished reply. Nil disables speech.
	Speaker SpeechRenderer
}

// ChatService turns a learner message into one streamed assistant reply
type ChatService struct {
	llm      repositories.ChatCompletion
	store    repositories.ContextStore
	sampling repositories.SamplingConfig
	logger   *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	llm repositories.ChatCompletion,
	store repositories.ContextStore,
	sampling repositories.SamplingConfig,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		llm:      llm,
		store:    store,
		sampling: sampling,
		logger:   logger,
	}
}

// SendMessage runs one turn on conv. The reply is appended to conv only once
// the provider signals the end of the stream; on failure the accumulated
// fragments are discarded and the user message stays in the history.
func (s *ChatService) SendMessage(ctx context.Context, conv *entities.Conversation, userText string, opts TurnOptions) (entities.Message, error) {
	text := strings.TrimSpace(userText)
	if text == "" {
		return entities.Message{}, domain.ErrEmptyMessage
	}

	// Claim the turn before any slow work so concurrent sends are rejected
	prior, appended, err := conv.StartTurn(text)
	if err != nil {
		return entities.Message{}, err
	}

	relevant := s.retrieveContext(ctx, text)

	logger := s.logger.With(zap.String("conversationID", conv.ID))
	logger.Info("Starting chat turn",
		zap.Int("priorMessages", len(prior)),
		zap.Int("contextDocuments", len(relevant)),
		zap.Bool("userAppended", appended))

	s.remember(ctx, text)

	reply, err := s.streamReply(ctx, repositories.ChatRequest{
		SystemInstruction: BuildSystemInstruction(relevant),
		PriorMessages:     prior,
		NewUserMessage:    text,
		Sampling:          s.sampling,
	}, opts.OnDelta, logger)
	if err != nil {
		conv.AbortTurn()
		logger.Error("Chat turn failed", zap.Error(err))
		return entities.Message{}, err
	}

	msg := conv.CommitTurn(reply)
	logger.Info("Chat turn completed", zap.Int("replyLength", len(reply)))

	s.remember(ctx, reply)
	if opts.Speaker != nil {
		opts.Speaker.Speak(reply)
	}

	return msg, nil
}

func (s *ChatService) retrieveContext(ctx context.Context, text string) []string {
	if s.store == nil {
		return []string{}
	}
	relevant, err := s.store.QueryRelevant(ctx, text)
	if err != nil {
		s.logger.Warn("Context retrieval failed, continuing without context", zap.Error(err))
		return []string{}
	}
	return relevant
}

func (s *ChatService) remember(ctx context.Context, text string) {
	if s.store == nil {
		return
	}
	if err := s.store.AddDocument(ctx, text); err != nil {
		s.logger.Warn("Failed to add text to context store", zap.Error(err))
	}
}

func (s *ChatService) streamReply(ctx context.Context, req repositories.ChatRequest, onDelta func(string), logger *zap.Logger) (string, error) {
	stream, err := s.llm.StreamChat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open chat stream: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	skipped := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, domain.ErrParse) {
			skipped++
			logger.Warn("Skipping malformed fragment", zap.Error(err))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("chat stream: %w", err)
		}

		reply.WriteString(fragment)
		if onDelta != nil {
			onDelta(fragment)
		}
	}

	if skipped > 0 {
		logger.Info("Chat stream finished with skipped fragments", zap.Int("skipped", skipped))
	}
	if reply.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion", domain.ErrProviderConnection)
	}
	return reply.String(), nil
}
