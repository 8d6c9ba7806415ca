package contextstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPContextStore talks to the retrieval sidecar that fronts a Chroma collection
type HTTPContextStore struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPContextStore creates a store for the sidecar at baseURL
func NewHTTPContextStore(baseURL string, httpClient *http.Client, logger *zap.Logger) *HTTPContextStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPContextStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type addRequest struct {
	Content string `json:"content"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Results []string `json:"results"`
}

// AddDocument implements repositories.ContextStore
func (s *HTTPContextStore) AddDocument(ctx context.Context, text string) error {
	if err := s.post(ctx, "/add-to-chroma", addRequest{Content: text}, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	return nil
}

// QueryRelevant implements repositories.ContextStore
func (s *HTTPContextStore) QueryRelevant(ctx context.Context, text string) ([]string, error) {
	var resp queryResponse
	if err := s.post(ctx, "/query-chroma", queryRequest{Query: text}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrieval, err)
	}
	if resp.Results == nil {
		return []string{}, nil
	}
	return resp.Results, nil
}

func (s *HTTPContextStore) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
