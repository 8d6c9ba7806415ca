package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain/repositories"
)

// MockSpeechToText replays scripted fragments for every stream it opens
type MockSpeechToText struct {
	logger    *zap.Logger
	fragments []string
	err       error

	mu      sync.Mutex
	streams []*MockSpeechToTextStream
}

// NewMockSpeechToText creates a mock that answers every recording with fragments.
// When fragments is empty the mock derives a canned answer from the audio size.
func NewMockSpeechToText(logger *zap.Logger, fragments ...string) *MockSpeechToText {
	return &MockSpeechToText{
		logger:    logger,
		fragments: fragments,
	}
}

// FailWith makes every subsequent stream terminate with err after its fragments
func (s *MockSpeechToText) FailWith(err error) *MockSpeechToText {
	s.err = err
	return s
}

// Streams returns the streams opened so far
func (s *MockSpeechToText) Streams() []*MockSpeechToTextStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MockSpeechToTextStream, len(s.streams))
	copy(out, s.streams)
	return out
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	stream := &MockSpeechToTextStream{
		logger:    s.logger,
		fragments: s.fragments,
		err:       s.err,
		events:    make(chan repositories.TranscriptEvent, len(s.fragments)+2),
	}

	s.mu.Lock()
	s.streams = append(s.streams, stream)
	s.mu.Unlock()

	return stream, nil
}

// MockSpeechToTextStream records the audio it receives
type MockSpeechToTextStream struct {
	logger    *zap.Logger
	fragments []string
	err       error
	events    chan repositories.TranscriptEvent

	mu       sync.Mutex
	received int
	sendDone bool
	closed   bool
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	m.received += len(data)
	m.mu.Unlock()
	return nil
}

// CloseSend emits the scripted fragments followed by a terminal event
func (m *MockSpeechToTextStream) CloseSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendDone {
		return nil
	}
	m.sendDone = true

	fragments := m.fragments
	if len(fragments) == 0 {
		fragments = []string{cannedTranscript(m.received)}
	}
	for _, f := range fragments {
		m.events <- repositories.TranscriptEvent{Type: repositories.TranscriptFragment, Text: f}
	}
	if m.err != nil {
		m.events <- repositories.TranscriptEvent{Type: repositories.TranscriptError, Err: m.err}
	} else {
		m.events <- repositories.TranscriptEvent{Type: repositories.TranscriptClosed}
	}
	close(m.events)

	m.logger.Info("Ending mock transcription stream", zap.Int("audioSize", m.received))
	return nil
}

func (m *MockSpeechToTextStream) Events() <-chan repositories.TranscriptEvent {
	return m.events
}

func (m *MockSpeechToTextStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Received returns the number of audio bytes streamed
func (m *MockSpeechToTextStream) Received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Closed reports whether Close was called
func (m *MockSpeechToTextStream) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// cannedTranscript mocks different responses based on audio size
func cannedTranscript(size int) string {
	switch {
	case size > 10000:
		return "Can you explain how photosynthesis turns light into sugar?"
	case size > 5000:
		return "Thanks, that makes sense."
	case size > 1000:
		return "Hello tutor!"
	default:
		return "Hi"
	}
}
