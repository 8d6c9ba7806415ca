package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/tutorloop/adapters/contextstore"
	"github.com/satriahrh/tutorloop/domain"
)

func TestDocumentService_Upload(t *testing.T) {
	store := contextstore.NewMemoryContextStore()
	service := NewDocumentService(store, zaptest.NewLogger(t))
	ctx := context.Background()

	result, err := service.Upload(ctx, "notes/cells.md", []byte("# Cells\nMitochondria make ATP."))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Name != "cells.md" || result.Binary {
		t.Errorf("Unexpected result: %+v", result)
	}

	result, err = service.Upload(ctx, "diagram.png", []byte{0x89, 'P', 'N', 'G', 0xff, 0x00})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Binary {
		t.Error("Expected binary file")
	}

	hits, _ := store.QueryRelevant(ctx, "diagram.png binary")
	if len(hits) == 0 || hits[0] != "File uploaded: diagram.png (binary file)" {
		t.Errorf("Expected binary placeholder document, got %v", hits)
	}
}

func TestDocumentService_Failures(t *testing.T) {
	ctx := context.Background()

	service := NewDocumentService(failingStore{}, zaptest.NewLogger(t))
	if _, err := service.Upload(ctx, "a.txt", []byte("hello")); !errors.Is(err, domain.ErrUpload) {
		t.Errorf("Expected ErrUpload, got %v", err)
	}

	service = NewDocumentService(contextstore.NewMemoryContextStore(), zaptest.NewLogger(t))
	if _, err := service.Upload(ctx, "", []byte("hello")); !errors.Is(err, domain.ErrUpload) {
		t.Errorf("Expected ErrUpload for missing name, got %v", err)
	}
	if _, err := service.Upload(ctx, "empty.txt", []byte("  \n")); !errors.Is(err, domain.ErrUpload) {
		t.Errorf("Expected ErrUpload for empty text, got %v", err)
	}
}

func TestIsTextDocument(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{name: "notes.txt", content: []byte("plain"), want: true},
		{name: "README", content: []byte("plain words"), want: true},
		{name: "data.bin", content: []byte{0x00, 0x01, 0xff}, want: false},
		{name: "slides.pdf", content: []byte("%PDF-1.4\n"), want: false},
	}

	for _, tt := range tests {
		if got := IsTextDocument(tt.name, tt.content); got != tt.want {
			t.Errorf("IsTextDocument(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
