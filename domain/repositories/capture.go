package repositories

import "context"

// CaptureDevice hands out exclusive access to an audio input
type CaptureDevice interface {
	// Acquire fails with domain.ErrDeviceUnavailable when the device is held
	Acquire(ctx context.Context) (AudioCapture, error)
}

// AudioCapture is one exclusive hold on a capture device
type AudioCapture interface {
	// Chunks is closed when the capture is released
	Chunks() <-chan []byte
	Release() error
}
