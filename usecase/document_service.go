package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true,
	".html": true, ".htm": true, ".xml": true, ".yaml": true, ".yml": true,
}

// UploadResult describes a stored document
type UploadResult struct {
	Name       string `json:"name"`
	Binary     bool   `json:"binary"`
	Characters int    `json:"characters"`
}

// DocumentService adds learner documents to the context store
type DocumentService struct {
	store  repositories.ContextStore
	logger *zap.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(store repositories.ContextStore, logger *zap.Logger) *DocumentService {
	return &DocumentService{store: store, logger: logger}
}

// Upload stores a document. Binary files are recorded by name only. Every
// failure wraps domain.ErrUpload.
func (s *DocumentService) Upload(ctx context.Context, name string, content []byte) (UploadResult, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return UploadResult{}, fmt.Errorf("%w: missing file name", domain.ErrUpload)
	}

	result := UploadResult{Name: name}
	var text string
	if IsTextDocument(name, content) {
		text = string(content)
		if strings.TrimSpace(text) == "" {
			return UploadResult{}, fmt.Errorf("%w: %s is empty", domain.ErrUpload, name)
		}
	} else {
		result.Binary = true
		text = fmt.Sprintf("File uploaded: %s (binary file)", name)
	}
	result.Characters = utf8.RuneCountInString(text)

	if s.store == nil {
		return UploadResult{}, fmt.Errorf("%w: no context store configured", domain.ErrUpload)
	}
	if err := s.store.AddDocument(ctx, text); err != nil {
		if !errors.Is(err, domain.ErrUpload) {
			err = fmt.Errorf("%w: %v", domain.ErrUpload, err)
		}
		s.logger.Warn("Document upload failed", zap.String("name", name), zap.Error(err))
		return UploadResult{}, err
	}

	s.logger.Info("Document uploaded",
		zap.String("name", name),
		zap.Bool("binary", result.Binary),
		zap.Int("characters", result.Characters))
	return result, nil
}

// IsTextDocument reports whether content should be indexed as text
func IsTextDocument(name string, content []byte) bool {
	if !utf8.Valid(content) {
		return false
	}
	if textExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(content), "text/")
}
