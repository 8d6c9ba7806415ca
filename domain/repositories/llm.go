package repositories

import (
	"context"

	"github.com/satriahrh/tutorloop/domain/entities"
)

// ChatCompletion abstracts any streaming chat model provider
type ChatCompletion interface {
	// StreamChat issues one chat request and returns its fragment stream
	StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ChatRequest is a single chat completion request
type ChatRequest struct {
	SystemInstruction string
	PriorMessages     []entities.Message
	NewUserMessage    string
	Sampling          SamplingConfig
}

// SamplingConfig carries generation parameters
type SamplingConfig struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// ChatStream yields response fragments in arrival order.
//
// Next returns io.EOF once the end-of-stream marker is seen. An error wrapping
// domain.ErrParse concerns one fragment only and the stream may continue; any
// other error is terminal.
type ChatStream interface {
	Next() (string, error)
	Close() error
}
