package usecase

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/tutorloop/adapters/tts"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	bytes  int
}

func (r *recordingSink) SpeakingStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start")
}

func (r *recordingSink) AudioChunk(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes += len(chunk)
}

func (r *recordingSink) SpeakingEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "end")
}

func TestSpeaker_Speak(t *testing.T) {
	logger := zaptest.NewLogger(t)
	renderer := tts.NewMockTextToSpeech(logger)
	sink := &recordingSink{}
	speaker := NewSpeaker(context.Background(), renderer, sink, logger)

	speaker.Speak("Light drives photosynthesis.")
	speaker.Speak("Now explain it back to me.")
	speaker.Wait()

	if len(sink.events) != 4 {
		t.Fatalf("Expected 4 events, got %v", sink.events)
	}
	for i, ev := range sink.events {
		want := "start"
		if i%2 == 1 {
			want = "end"
		}
		if ev != want {
			t.Errorf("Expected renderings not to overlap, got %v", sink.events)
			break
		}
	}
	if sink.bytes == 0 {
		t.Error("Expected audio to reach the sink")
	}
	if len(renderer.Texts()) != 2 {
		t.Errorf("Expected 2 renderings, got %d", len(renderer.Texts()))
	}
}

func TestSpeaker_FailureIsSwallowed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	sink := &recordingSink{}
	speaker := NewSpeaker(context.Background(), tts.NewMockTextToSpeech(logger), sink, logger)

	speaker.Speak("   ")
	speaker.Wait()

	if len(sink.events) != 0 {
		t.Errorf("Expected nothing to be played, got %v", sink.events)
	}
}

func TestSpeaker_CancelledContext(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	speaker := NewSpeaker(ctx, tts.NewMockTextToSpeech(logger), sink, logger)
	speaker.Speak("hello")
	speaker.Wait()

	if len(sink.events) != 0 {
		t.Errorf("Expected nothing to be played, got %v", sink.events)
	}
}
