package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a Google Cloud speech-to-text service
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create speech client: %v", domain.ErrProviderConnection, err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create streaming recognize: %v", domain.ErrProviderConnection, err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("%w: send streaming config: %v", domain.ErrProviderConnection, err)
	}

	s := &GoogleSpeechToTextStream{
		client: client,
		stream: stream,
		logger: g.logger,
		events: make(chan repositories.TranscriptEvent, 64),
	}
	go s.receiveResults()

	return s, nil
}

// GoogleSpeechToTextStream is one StreamingRecognize call
type GoogleSpeechToTextStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	logger *zap.Logger
	events chan repositories.TranscriptEvent

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("%w: send audio data: %v", domain.ErrProviderConnection, err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) CloseSend() error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if err := g.stream.CloseSend(); err != nil {
		return fmt.Errorf("%w: close send stream: %v", domain.ErrProviderConnection, err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) Events() <-chan repositories.TranscriptEvent {
	return g.events
}

func (g *GoogleSpeechToTextStream) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.client.Close()
	})
	return err
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.events)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.events <- repositories.TranscriptEvent{Type: repositories.TranscriptClosed}
			return
		}
		if err != nil {
			g.events <- repositories.TranscriptEvent{
				Type: repositories.TranscriptError,
				Err:  fmt.Errorf("%w: receive response: %v", domain.ErrProviderConnection, err),
			}
			return
		}

		// Only final results carry settled text
		for _, result := range resp.Results {
			if !result.IsFinal || len(result.Alternatives) == 0 {
				continue
			}
			transcript := result.Alternatives[0].Transcript
			if strings.TrimSpace(transcript) == "" {
				continue
			}
			g.events <- repositories.TranscriptEvent{Type: repositories.TranscriptFragment, Text: transcript}
		}
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
