package contextstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/satriahrh/tutorloop/domain"
)

const memoryResultLimit = 5

// MemoryContextStore is an in-process store ranking documents by token overlap
type MemoryContextStore struct {
	mu        sync.RWMutex
	documents []memoryDocument
}

type memoryDocument struct {
	content string
	tokens  map[string]struct{}
}

// NewMemoryContextStore creates an empty store
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{}
}

// AddDocument implements repositories.ContextStore
func (m *MemoryContextStore) AddDocument(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty document", domain.ErrUpload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, memoryDocument{content: text, tokens: tokenize(text)})
	return nil
}

// QueryRelevant implements repositories.ContextStore
func (m *MemoryContextStore) QueryRelevant(ctx context.Context, text string) ([]string, error) {
	query := tokenize(text)
	if len(query) == 0 {
		return []string{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		index int
		score int
	}
	var hits []scored
	for i, doc := range m.documents {
		score := 0
		for tok := range query {
			if _, ok := doc.tokens[tok]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}

	// Higher overlap first, newer first on ties
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].index > hits[b].index
	})

	results := make([]string, 0, memoryResultLimit)
	for _, h := range hits {
		if len(results) == memoryResultLimit {
			break
		}
		results = append(results, m.documents[h.index].content)
	}
	return results, nil
}

// Len returns the number of stored documents
func (m *MemoryContextStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) < 3 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}
