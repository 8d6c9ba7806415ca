package api

import "github.com/satriahrh/tutorloop/usecase"

// DocumentRequest is the JSON form of a document upload
type DocumentRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// NoticeResponse is a chat-style status notice
type NoticeResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message"`
	Result  *usecase.UploadResult `json:"result,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
