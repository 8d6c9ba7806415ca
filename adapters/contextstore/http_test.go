package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

var _ repositories.ContextStore = (*HTTPContextStore)(nil)
var _ repositories.ContextStore = (*MemoryContextStore)(nil)

func TestHTTPContextStore(t *testing.T) {
	var added []string
	mux := http.NewServeMux()
	mux.HandleFunc("/add-to-chroma", func(w http.ResponseWriter, r *http.Request) {
		var req addRequest
		json.NewDecoder(r.Body).Decode(&req)
		added = append(added, req.Content)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/query-chroma", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "what is ATP" {
			t.Errorf("Expected query 'what is ATP', got %q", req.Query)
		}
		json.NewEncoder(w).Encode(queryResponse{Results: []string{"ATP stores energy", "Mitochondria make ATP"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := NewHTTPContextStore(server.URL+"/", nil, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := store.AddDocument(ctx, "ATP stores energy"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(added) != 1 || added[0] != "ATP stores energy" {
		t.Errorf("Expected document to be posted, got %v", added)
	}

	results, err := store.QueryRelevant(ctx, "what is ATP")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestHTTPContextStore_Outage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := NewHTTPContextStore(server.URL, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := store.QueryRelevant(ctx, "anything"); !errors.Is(err, domain.ErrRetrieval) {
		t.Errorf("Expected ErrRetrieval, got %v", err)
	}
	if err := store.AddDocument(ctx, "anything"); !errors.Is(err, domain.ErrUpload) {
		t.Errorf("Expected ErrUpload, got %v", err)
	}
}
