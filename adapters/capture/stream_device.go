package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/repositories"
)

const defaultBufferChunks = 256

// StreamCaptureDevice is a capture device fed by pushed audio chunks, such as
// binary frames from a learner's socket. At most one capture holds it.
type StreamCaptureDevice struct {
	logger     *zap.Logger
	bufferSize int

	mu      sync.Mutex
	active  *streamCapture
	dropped int
}

// NewStreamCaptureDevice creates a device buffering up to bufferChunks per capture
func NewStreamCaptureDevice(bufferChunks int, logger *zap.Logger) *StreamCaptureDevice {
	if bufferChunks <= 0 {
		bufferChunks = defaultBufferChunks
	}
	return &StreamCaptureDevice{
		logger:     logger,
		bufferSize: bufferChunks,
	}
}

// Acquire implements repositories.CaptureDevice
func (d *StreamCaptureDevice) Acquire(ctx context.Context) (repositories.AudioCapture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		return nil, domain.ErrDeviceUnavailable
	}
	d.active = &streamCapture{
		device: d,
		chunks: make(chan []byte, d.bufferSize),
	}
	return d.active, nil
}

// Push hands a chunk to the active capture. Chunks arriving while no capture
// is held, or while its buffer is full, are dropped.
func (d *StreamCaptureDevice) Push(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == nil {
		return false
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)
	select {
	case d.active.chunks <- data:
		return true
	default:
		d.dropped++
		d.logger.Warn("Capture buffer full, dropping audio chunk", zap.Int("dropped", d.dropped))
		return false
	}
}

// Busy reports whether a capture currently holds the device
func (d *StreamCaptureDevice) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

func (d *StreamCaptureDevice) release(c *streamCapture) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != c {
		return
	}
	d.active = nil
	close(c.chunks)
}

type streamCapture struct {
	device *StreamCaptureDevice
	chunks chan []byte
	once   sync.Once
}

func (c *streamCapture) Chunks() <-chan []byte {
	return c.chunks
}

func (c *streamCapture) Release() error {
	c.once.Do(func() {
		c.device.release(c)
	})
	return nil
}
