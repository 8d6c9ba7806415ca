package stt_test

import (
	"github.com/satriahrh/tutorloop/adapters/stt"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

var _ repositories.SpeechToText = &stt.GoogleSpeechToText{}
var _ repositories.SpeechToText = &stt.DeepgramSpeechToText{}
var _ repositories.SpeechToText = &stt.MockSpeechToText{}
