package repositories

import "context"

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming opens one provider connection for a recording
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// TranscriptEventType identifies what a provider reported
type TranscriptEventType string

const (
	TranscriptFragment TranscriptEventType = "fragment"
	TranscriptClosed   TranscriptEventType = "closed"
	TranscriptError    TranscriptEventType = "error"
)

// TranscriptEvent is one ordered notification from a transcription stream.
// Closed and Error are terminal.
type TranscriptEvent struct {
	Type TranscriptEventType
	Text string
	Err  error
}

// SpeechToTextStreaming is a single open provider connection
type SpeechToTextStreaming interface {
	// Stream sends a chunk of audio
	Stream(data []byte) error
	// CloseSend signals that no more audio follows
	CloseSend() error
	// Events delivers fragments followed by exactly one terminal event
	Events() <-chan TranscriptEvent
	// Close tears the connection down
	Close() error
}
