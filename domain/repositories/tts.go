package repositories

import "context"

// TextToSpeech renders text into a stream of audio chunks
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
