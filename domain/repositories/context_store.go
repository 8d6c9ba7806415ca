package repositories

import "context"

// ContextStore is the vector store used for retrieval augmented replies
type ContextStore interface {
	// AddDocument stores text for later retrieval
	AddDocument(ctx context.Context, text string) error
	// QueryRelevant returns documents relevant to text, most relevant first
	QueryRelevant(ctx context.Context, text string) ([]string, error)
}
