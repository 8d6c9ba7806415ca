package entities

// TranscriptionStatus is the lifecycle state of a transcription session
type TranscriptionStatus string

const (
	TranscriptionIdle       TranscriptionStatus = "idle"
	TranscriptionRecording  TranscriptionStatus = "recording"
	TranscriptionFinalizing TranscriptionStatus = "finalizing"
	TranscriptionStreaming  TranscriptionStatus = "streaming"
	TranscriptionClosed     TranscriptionStatus = "closed"
)

// Active reports whether the session holds the device or a provider connection
func (s TranscriptionStatus) Active() bool {
	return s == TranscriptionRecording || s == TranscriptionFinalizing || s == TranscriptionStreaming
}
