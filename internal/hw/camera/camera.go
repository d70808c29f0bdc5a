package camera

import (
	"context"
	"errors"
)

// ErrNoFrame is returned when the device produced no image.
var ErrNoFrame = errors.New("camera returned no frame")

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (V4L2, test card, network protocol, etc.).
type Camera interface {
	// Grab returns a single JPEG-encoded frame.
	Grab(ctx context.Context) ([]byte, error)
	// Close releases the device.
	Close() error
}
