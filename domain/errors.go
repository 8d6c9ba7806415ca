package domain

import "errors"

// Error taxonomy shared by the tutoring pipeline. Adapters and usecases wrap
// these with fmt.Errorf("...: %w", err) so callers can match with errors.Is.
var (
	// ErrDeviceUnavailable means the audio capture device could not be acquired.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrProviderConnection covers any failure of a streaming provider connection.
	ErrProviderConnection = errors.New("provider connection error")
	// ErrParse marks a single malformed inbound frame or fragment.
	ErrParse = errors.New("malformed frame")
	// ErrRetrieval means the context store could not be queried. Never fatal.
	ErrRetrieval = errors.New("context retrieval failed")
	// ErrUpload means a document could not be added to the context store. Never fatal.
	ErrUpload = errors.New("document upload failed")
)

// Precondition failures.
var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrTurnInProgress   = errors.New("an assistant reply is already in progress")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrSessionBusy      = errors.New("transcription stream still open")
	ErrEmptyRecording   = errors.New("no audio captured")
)
