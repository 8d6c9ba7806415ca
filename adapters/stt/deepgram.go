package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

const (
	defaultDeepgramURL   = "wss://api.deepgram.com/v1/listen"
	defaultDeepgramModel = "nova-2"
)

// DeepgramConfig holds configuration for the Deepgram live transcription API
type DeepgramConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewDeepgramConfigFromEnv creates a config from environment variables
func NewDeepgramConfigFromEnv() *DeepgramConfig {
	config := &DeepgramConfig{
		APIKey:  os.Getenv("DEEPGRAM_API_KEY"),
		Model:   os.Getenv("DEEPGRAM_MODEL"),
		BaseURL: defaultDeepgramURL,
	}
	if config.Model == "" {
		config.Model = defaultDeepgramModel
	}
	return config
}

// ValidateDeepgramConfig validates the Deepgram configuration
func ValidateDeepgramConfig(config *DeepgramConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if config.BaseURL == "" {
		return fmt.Errorf("deepgram base URL is required")
	}
	return nil
}

// DeepgramSpeechToText implements SpeechToText over Deepgram's live websocket
type DeepgramSpeechToText struct {
	config *DeepgramConfig
	logger *zap.Logger
	dialer *websocket.Dialer
}

// NewDeepgramSpeechToText creates a new Deepgram speech-to-text service
func NewDeepgramSpeechToText(config *DeepgramConfig, logger *zap.Logger) (*DeepgramSpeechToText, error) {
	if err := ValidateDeepgramConfig(config); err != nil {
		return nil, fmt.Errorf("invalid deepgram config: %w", err)
	}
	return &DeepgramSpeechToText{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// InitTranscribeStreaming opens a live transcription connection
func (d *DeepgramSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	endpoint, err := d.listenURL(config)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%w: deepgram connect (status %d): %s", domain.ErrProviderConnection, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: deepgram connect: %v", domain.ErrProviderConnection, err)
	}

	d.logger.Info("Deepgram stream opened",
		zap.String("model", d.config.Model),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	stream := &DeepgramStream{
		conn:   conn,
		logger: d.logger,
		events: make(chan repositories.TranscriptEvent, 64),
		done:   make(chan struct{}),
	}
	go stream.readLoop()

	return stream, nil
}

func (d *DeepgramSpeechToText) listenURL(config repositories.AudioConfig) (string, error) {
	u, err := url.Parse(d.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram URL: %w", err)
	}

	q := u.Query()
	q.Set("model", d.config.Model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("filler_words", "false")
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	if encoding := deepgramEncoding(config.Encoding); encoding != "" {
		q.Set("encoding", encoding)
		if config.SampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(config.SampleRate))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramEncoding maps our encoding names onto Deepgram's raw encodings.
// Containerized audio (webm, ogg) is detected by Deepgram and needs no hint.
func deepgramEncoding(encoding string) string {
	switch strings.ToUpper(encoding) {
	case "LINEAR16", "PCM", "WAV":
		return "linear16"
	case "FLAC":
		return "flac"
	case "MULAW":
		return "mulaw"
	case "AMR":
		return "amr-nb"
	case "AMR_WB":
		return "amr-wb"
	default:
		return ""
	}
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DeepgramStream is one live Deepgram connection
type DeepgramStream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan repositories.TranscriptEvent
	done      chan struct{}
}

// Stream sends a binary audio chunk
func (s *DeepgramStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: send audio: %v", domain.ErrProviderConnection, err)
	}
	return nil
}

// CloseSend asks Deepgram to flush remaining results and close the stream
func (s *DeepgramStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("%w: close stream: %v", domain.ErrProviderConnection, err)
	}
	return nil
}

// Events returns the ordered transcript events
func (s *DeepgramStream) Events() <-chan repositories.TranscriptEvent {
	return s.events
}

// Close tears down the connection
func (s *DeepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *DeepgramStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || isClosedByUs(s.done) || errors.Is(err, io.EOF) {
				s.emit(repositories.TranscriptEvent{Type: repositories.TranscriptClosed})
				return
			}
			s.emit(repositories.TranscriptEvent{
				Type: repositories.TranscriptError,
				Err:  fmt.Errorf("%w: %v", domain.ErrProviderConnection, err),
			})
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Warn("Skipping malformed deepgram message", zap.Error(err))
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		transcript := resp.Channel.Alternatives[0].Transcript
		if strings.TrimSpace(transcript) == "" {
			continue
		}
		if !s.emit(repositories.TranscriptEvent{Type: repositories.TranscriptFragment, Text: transcript}) {
			return
		}
	}
}

func (s *DeepgramStream) emit(event repositories.TranscriptEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

func isClosedByUs(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
