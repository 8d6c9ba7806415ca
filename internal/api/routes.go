package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/internal/websocket"
	"github.com/satriahrh/tutorloop/usecase"
)

const maxDocumentSize = 10 << 20

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	documents *usecase.DocumentService,
	conversations *usecase.ConversationService,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"service":       "tutorloop",
			"conversations": conversations.Count(),
			"learners":      hub.ClientCount(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/documents", func(c echo.Context) error {
		return uploadDocument(c, hub, documents, logger)
	})

	v1.GET("/conversations/:id", func(c echo.Context) error {
		snapshot, ok := conversations.Snapshot(c.Param("id"))
		if !ok {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Conversation not found",
			})
		}
		return c.JSON(http.StatusOK, snapshot)
	})

	// Learner WebSocket endpoint
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c, logger)
	})
}

// uploadDocument accepts a multipart "file" field or a JSON body
func uploadDocument(c echo.Context, hub *websocket.Hub, documents *usecase.DocumentService, logger *zap.Logger) error {
	name, content, err := readDocument(c)
	if err != nil {
		logger.Warn("Invalid document upload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	}

	result, err := documents.Upload(c.Request().Context(), name, content)
	if err != nil {
		message := fmt.Sprintf("Error uploading %s: %v", name, err)
		hub.BroadcastNotice("error", message)
		return c.JSON(http.StatusBadGateway, NoticeResponse{
			Status:  "error",
			Message: message,
		})
	}

	message := fmt.Sprintf("File uploaded: %s", result.Name)
	hub.BroadcastNotice("success", message)
	return c.JSON(http.StatusOK, NoticeResponse{
		Status:  "success",
		Message: message,
		Result:  &result,
	})
}

func readDocument(c echo.Context) (string, []byte, error) {
	var req DocumentRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := c.Bind(&req); err != nil {
			return "", nil, fmt.Errorf("invalid JSON body")
		}
		if len(req.Content) > maxDocumentSize {
			return "", nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
		}
		return req.Name, []byte(req.Content), nil
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("file is required")
	}
	if fileHeader.Size > maxDocumentSize {
		return "", nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxDocumentSize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return fileHeader.Filename, content, nil
}
