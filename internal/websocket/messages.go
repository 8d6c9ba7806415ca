package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/tutorloop/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound message types
const (
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeChatMessage    MessageType = "chat_message"
	MessageTypeMediaSample    MessageType = "media_sample"
	MessageTypePing           MessageType = "ping"
)

// Outbound message types
const (
	MessageTypeTranscript       MessageType = "transcript"
	MessageTypeAssistantDelta   MessageType = "assistant_delta"
	MessageTypeAssistantMessage MessageType = "assistant_message"
	MessageTypeSpeakingStart    MessageType = "speaking_start"
	MessageTypeSpeakingEnd      MessageType = "speaking_end"
	MessageTypeEmotionUpdate    MessageType = "emotion_update"
	MessageTypeDistressAlert    MessageType = "distress_alert"
	MessageTypeNotice           MessageType = "notice"
	MessageTypePong             MessageType = "pong"
	MessageTypeError            MessageType = "error"
)

// Error codes sent in ErrorMessage
const (
	ErrorCodeInvalidMessage      = "invalid_message"
	ErrorCodeDeviceUnavailable   = "device_unavailable"
	ErrorCodeAlreadyRecording    = "already_recording"
	ErrorCodeNotRecording        = "not_recording"
	ErrorCodeSessionBusy         = "session_busy"
	ErrorCodeEmptyRecording      = "empty_recording"
	ErrorCodeTranscriptionFailed = "transcription_failed"
	ErrorCodeEmptyMessage        = "empty_message"
	ErrorCodeTurnInProgress      = "turn_in_progress"
	ErrorCodeChatFailed          = "chat_failed"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ListeningStartMessage asks the server to start recording
type ListeningStartMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`
}

// ListeningEndMessage stops the recording and requests a transcript
type ListeningEndMessage struct {
	BaseMessage
}

// ChatMessage is a typed learner message
type ChatMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// MediaSampleMessage carries the latest camera frame for emotion inference
type MediaSampleMessage struct {
	BaseMessage
	Data string `json:"data"` // base64 encoded

	decoded []byte
}

// Sample returns the decoded sample
func (m *MediaSampleMessage) Sample() []byte {
	return m.decoded
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StatusMessage acknowledges listening_start and listening_end
type StatusMessage struct {
	BaseMessage
	Status string `json:"status"`
}

// TranscriptMessage carries the finalized transcript of a recording
type TranscriptMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// AssistantDeltaMessage carries one fragment of a reply being generated
type AssistantDeltaMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// AssistantMessage carries a finished reply
type AssistantMessage struct {
	BaseMessage
	Message entities.Message `json:"message"`
}

// EmotionUpdateMessage carries smoothed emotion scores
type EmotionUpdateMessage struct {
	BaseMessage
	Emotions        []entities.EmotionScore `json:"emotions"`
	FaceDetected    bool                    `json:"face_detected"`
	FaceProbability *float64                `json:"face_probability,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// DistressAlertMessage suggests taking a break
type DistressAlertMessage struct {
	BaseMessage
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// NoticeMessage is a chat-style status notice
type NoticeMessage struct {
	BaseMessage
	Status         string `json:"status"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming text frame
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening_start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		return &ListeningEndMessage{BaseMessage: base}, nil

	case MessageTypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid chat message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypeMediaSample:
		var msg MediaSampleMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid media sample message: %w", err)
		}
		if msg.Data == "" {
			return nil, fmt.Errorf("data is required")
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("data must be base64: %w", err)
		}
		msg.decoded = decoded
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateListeningStart validates optional audio settings
func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	if msg.Encoding != "" {
		validEncodings := map[string]bool{
			"LINEAR16": true, "FLAC": true, "MULAW": true, "OGG_OPUS": true, "WEBM_OPUS": true,
		}
		if !validEncodings[strings.ToUpper(msg.Encoding)] {
			return fmt.Errorf("encoding must be one of: LINEAR16, FLAC, MULAW, OGG_OPUS, WEBM_OPUS")
		}
	}
	return nil
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong), Data: data}
}

// CreateStatusMessage acknowledges a listening control message
func CreateStatusMessage(t MessageType, status string) *StatusMessage {
	return &StatusMessage{BaseMessage: newBase(t), Status: status}
}

// CreateTranscriptMessage creates a transcript message
func CreateTranscriptMessage(text string) *TranscriptMessage {
	return &TranscriptMessage{BaseMessage: newBase(MessageTypeTranscript), Text: text}
}

// CreateAssistantDeltaMessage creates a reply fragment message
func CreateAssistantDeltaMessage(text string) *AssistantDeltaMessage {
	return &AssistantDeltaMessage{BaseMessage: newBase(MessageTypeAssistantDelta), Text: text}
}

// CreateAssistantMessage creates a finished reply message
func CreateAssistantMessage(msg entities.Message) *AssistantMessage {
	return &AssistantMessage{BaseMessage: newBase(MessageTypeAssistantMessage), Message: msg}
}

// CreateNoticeMessage creates a chat-style notice
func CreateNoticeMessage(status, message string) *NoticeMessage {
	return &NoticeMessage{BaseMessage: newBase(MessageTypeNotice), Status: status, Message: message}
}

// CreateDistressAlertMessage creates a break suggestion
func CreateDistressAlertMessage(title, description string, score float64) *DistressAlertMessage {
	return &DistressAlertMessage{
		BaseMessage: newBase(MessageTypeDistressAlert),
		Title:       title,
		Description: description,
		Score:       score,
	}
}
