package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

// TranscriptHandler receives the outcome of a recording. Exactly one of the
// two methods is called per recording that reaches the provider, except that
// nothing is reported when the provider closes with an empty transcript.
type TranscriptHandler interface {
	OnTranscript(text string)
	OnTranscriptionError(err error)
}

// TranscriptionSession records audio from a capture device and turns each
// recording into a single transcript. It is reused across recordings.
type TranscriptionSession struct {
	device  repositories.CaptureDevice
	stt     repositories.SpeechToText
	handler TranscriptHandler
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	status     entities.TranscriptionStatus
	config     repositories.AudioConfig
	capture    repositories.AudioCapture
	pumpDone   chan struct{}
	chunks     [][]byte
	transcript string
	err        error

	streams sync.WaitGroup
}

// NewTranscriptionSession creates an idle session. A zero timeout means the
// provider stream has no deadline.
func NewTranscriptionSession(
	device repositories.CaptureDevice,
	stt repositories.SpeechToText,
	handler TranscriptHandler,
	timeout time.Duration,
	logger *zap.Logger,
) *TranscriptionSession {
	return &TranscriptionSession{
		device:  device,
		stt:     stt,
		handler: handler,
		timeout: timeout,
		logger:  logger,
		status:  entities.TranscriptionIdle,
	}
}

// Status returns the current lifecycle state
func (s *TranscriptionSession) Status() entities.TranscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error recorded by the last recording, if any
func (s *TranscriptionSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartRecording resets the session and acquires the capture device
func (s *TranscriptionSession) StartRecording(ctx context.Context, config repositories.AudioConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case entities.TranscriptionRecording:
		return domain.ErrAlreadyRecording
	case entities.TranscriptionFinalizing, entities.TranscriptionStreaming:
		return domain.ErrSessionBusy
	}

	s.resetLocked()

	capture, err := s.device.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		s.err = err
		s.logger.Warn("Capture device unavailable", zap.Error(err))
		return err
	}

	s.capture = capture
	s.config = config
	s.status = entities.TranscriptionRecording
	s.pumpDone = make(chan struct{})
	go s.pump(capture, s.pumpDone)

	s.logger.Info("Recording started",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))
	return nil
}

func (s *TranscriptionSession) pump(capture repositories.AudioCapture, done chan struct{}) {
	defer close(done)
	for chunk := range capture.Chunks() {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	}
}

// StopRecording releases the device and hands the recording to the provider.
// The transcript is delivered asynchronously through the handler.
func (s *TranscriptionSession) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.status != entities.TranscriptionRecording {
		s.mu.Unlock()
		return domain.ErrNotRecording
	}
	capture, pumpDone := s.capture, s.pumpDone
	s.capture = nil
	s.status = entities.TranscriptionFinalizing
	s.mu.Unlock()

	if err := capture.Release(); err != nil {
		s.logger.Warn("Failed to release capture device", zap.Error(err))
	}
	<-pumpDone

	s.mu.Lock()
	payload := assemble(s.chunks)
	s.chunks = nil
	config := s.config
	if len(payload) == 0 {
		s.status = entities.TranscriptionIdle
		s.err = domain.ErrEmptyRecording
		s.mu.Unlock()
		s.logger.Info("Recording stopped without audio")
		return domain.ErrEmptyRecording
	}
	s.mu.Unlock()

	s.logger.Info("Recording stopped", zap.Int("payloadSize", len(payload)))

	s.streams.Add(1)
	go s.stream(ctx, payload, config)
	return nil
}

// Wait blocks until the current provider stream, if any, has finished
func (s *TranscriptionSession) Wait() {
	s.streams.Wait()
}

// Close releases the device if a recording is still running
func (s *TranscriptionSession) Close() {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	if s.status == entities.TranscriptionRecording {
		s.status = entities.TranscriptionIdle
	}
	s.mu.Unlock()

	if capture != nil {
		capture.Release()
	}
}

func (s *TranscriptionSession) stream(ctx context.Context, payload []byte, config repositories.AudioConfig) {
	defer s.streams.Done()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	conn, err := s.stt.InitTranscribeStreaming(ctx, config)
	if err != nil {
		s.fail(providerError(err))
		return
	}
	defer conn.Close()

	s.setStatus(entities.TranscriptionStreaming)

	if err := conn.Stream(payload); err != nil {
		s.fail(providerError(err))
		return
	}
	if err := conn.CloseSend(); err != nil {
		s.fail(providerError(err))
		return
	}

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.fail(fmt.Errorf("%w: %v", domain.ErrProviderConnection, ctx.Err()))
			return
		case ev, ok := <-events:
			if !ok {
				s.fail(fmt.Errorf("%w: stream ended without close", domain.ErrProviderConnection))
				return
			}
			switch ev.Type {
			case repositories.TranscriptFragment:
				s.mu.Lock()
				s.transcript += " " + ev.Text
				s.mu.Unlock()
			case repositories.TranscriptClosed:
				s.finish()
				return
			case repositories.TranscriptError:
				s.fail(providerError(ev.Err))
				return
			}
		}
	}
}

func (s *TranscriptionSession) finish() {
	s.mu.Lock()
	text := strings.TrimSpace(s.transcript)
	s.transcript = ""
	s.status = entities.TranscriptionIdle
	s.mu.Unlock()

	if text == "" {
		s.logger.Info("Transcription closed without speech")
		return
	}
	s.logger.Info("Transcription completed", zap.Int("length", len(text)))
	s.handler.OnTranscript(text)
}

func (s *TranscriptionSession) fail(err error) {
	s.mu.Lock()
	s.transcript = ""
	s.status = entities.TranscriptionClosed
	s.err = err
	s.mu.Unlock()

	s.logger.Error("Transcription failed", zap.Error(err))
	s.handler.OnTranscriptionError(err)
}

func (s *TranscriptionSession) setStatus(status entities.TranscriptionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *TranscriptionSession) resetLocked() {
	s.status = entities.TranscriptionIdle
	s.chunks = nil
	s.transcript = ""
	s.err = nil
	s.capture = nil
	s.pumpDone = nil
}

func assemble(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	payload := make([]byte, 0, size)
	for _, c := range chunks {
		payload = append(payload, c...)
	}
	return payload
}

func providerError(err error) error {
	if err == nil {
		err = errors.New("unknown provider failure")
	}
	if errors.Is(err, domain.ErrProviderConnection) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderConnection, err)
}
