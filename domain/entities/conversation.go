package entities

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/tutorloop/domain"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single entry of the conversation history
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Conversation is the ordered history of one tutoring session. It is passed
// explicitly to every component that reads or writes it.
//
// At most one assistant reply may be in progress. While it is, no message can
// be appended; the reply itself is published only through CommitTurn.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	mu         sync.RWMutex
	messages   []Message
	inProgress bool
	now        func() time.Time
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		messages:  make([]Message, 0),
		now:       time.Now,
	}
}

// AppendMessage appends a finished message to the history
func (c *Conversation) AppendMessage(role MessageRole, content string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inProgress {
		return Message{}, domain.ErrTurnInProgress
	}
	return c.appendLocked(role, content), nil
}

// History returns a copy of the conversation history
func (c *Conversation) History() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]Message, len(c.messages))
	copy(history, c.messages)
	return history
}

// ConversationSnapshot is a read-only copy of a conversation
type ConversationSnapshot struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	InProgress bool      `json:"in_progress"`
	Messages   []Message `json:"messages"`
}

// Snapshot returns a copy of the conversation suitable for serialization
func (c *Conversation) Snapshot() ConversationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]Message, len(c.messages))
	copy(messages, c.messages)
	return ConversationSnapshot{
		ID:         c.ID,
		CreatedAt:  c.CreatedAt,
		InProgress: c.inProgress,
		Messages:   messages,
	}
}

// Len returns the number of messages in the history
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// InProgress reports whether an assistant reply is being produced
func (c *Conversation) InProgress() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inProgress
}

// StartTurn opens a new turn for userText. The user message is appended
// unless the most recent entry is already a user message with the same
// content. It returns the history preceding that user message.
func (c *Conversation) StartTurn(userText string) (prior []Message, appended bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inProgress {
		return nil, false, domain.ErrTurnInProgress
	}

	n := len(c.messages)
	if n > 0 && c.messages[n-1].Role == MessageRoleUser && c.messages[n-1].Content == userText {
		n--
	} else {
		c.appendLocked(MessageRoleUser, userText)
		appended = true
	}

	prior = make([]Message, n)
	copy(prior, c.messages[:n])
	c.inProgress = true
	return prior, appended, nil
}

// CommitTurn appends the finished assistant reply and closes the turn
func (c *Conversation) CommitTurn(content string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := c.appendLocked(MessageRoleAssistant, content)
	c.inProgress = false
	return msg
}

// AbortTurn closes the turn without touching the history
func (c *Conversation) AbortTurn() {
	c.mu.Lock()
	c.inProgress = false
	c.mu.Unlock()
}

func (c *Conversation) appendLocked(role MessageRole, content string) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	return msg
}
