package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain/repositories"
)

// AudioSink receives rendered speech
type AudioSink interface {
	SpeakingStarted()
	AudioChunk(chunk []byte)
	SpeakingEnded()
}

// Speaker renders replies through a TextToSpeech provider into a sink. Speak
// never blocks; renderings are played one after another.
type Speaker struct {
	ctx    context.Context
	tts    repositories.TextToSpeech
	sink   AudioSink
	logger *zap.Logger

	playMu sync.Mutex
	wg     sync.WaitGroup
}

// NewSpeaker creates a speaker whose renderings stop when ctx is done
func NewSpeaker(ctx context.Context, tts repositories.TextToSpeech, sink AudioSink, logger *zap.Logger) *Speaker {
	return &Speaker{
		ctx:    ctx,
		tts:    tts,
		sink:   sink,
		logger: logger,
	}
}

// Speak implements SpeechRenderer
func (s *Speaker) Speak(text string) {
	if s == nil || s.tts == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.playMu.Lock()
		defer s.playMu.Unlock()
		s.render(text)
	}()
}

// Wait blocks until all pending renderings have finished
func (s *Speaker) Wait() {
	s.wg.Wait()
}

func (s *Speaker) render(text string) {
	if s.ctx.Err() != nil {
		return
	}

	audio, err := s.tts.ConvertTextToSpeech(s.ctx, text)
	if err != nil {
		s.logger.Error("Text-to-speech failed", zap.Error(err))
		return
	}

	s.sink.SpeakingStarted()
	defer s.sink.SpeakingEnded()

	chunks := 0
	for chunk := range audio {
		s.sink.AudioChunk(chunk)
		chunks++
	}
	s.logger.Debug("Speech rendered", zap.Int("chunks", chunks))
}
