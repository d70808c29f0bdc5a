package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/blackjack/webcam"
)

// pixFmtMJPEG is the 'MJPG' fourcc.
const pixFmtMJPEG webcam.PixelFormat = 0x47504A4D

const bufferCount = 2

// V4L2 is a Camera backed by a USB webcam streaming MJPEG, so every frame
// is already a JPEG and needs no re-encoding.
type V4L2 struct {
	cam     *webcam.Webcam
	device  string
	timeout time.Duration
}

// OpenV4L2 opens device (e.g. /dev/video0), negotiates MJPEG at the
// closest supported size and starts streaming.
func OpenV4L2(device string, width, height int, timeout time.Duration) (*V4L2, error) {
	debug.Info("Opening camera %s", device)

	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", device, err)
	}

	format, ok := findMJPEG(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, fmt.Errorf("camera %s does not support MJPEG", device)
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("set image format: %w", err)
	}
	debug.Verbose("Camera: negotiated MJPEG %dx%d", w, h)

	if err := cam.SetBufferCount(bufferCount); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set buffer count: %w", err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("start streaming: %w", err)
	}

	return &V4L2{cam: cam, device: device, timeout: timeout}, nil
}

func findMJPEG(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	if _, ok := formats[pixFmtMJPEG]; ok {
		return pixFmtMJPEG, true
	}
	for f, name := range formats {
		if strings.Contains(strings.ToUpper(name), "JPEG") {
			return f, true
		}
	}
	return 0, false
}

// Grab returns the newest frame. Buffered frames queued since the last
// call are dropped so the image is not stale.
func (v *V4L2) Grab(ctx context.Context) ([]byte, error) {
	var frame []byte
	for i := 0; i <= bufferCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := v.readFrame()
		if err != nil {
			if frame != nil {
				break
			}
			return nil, err
		}
		frame = f
	}
	debug.Verbose("Camera: grabbed %d bytes from %s", len(frame), v.device)
	return frame, nil
}

func (v *V4L2) readFrame() ([]byte, error) {
	secs := uint32(v.timeout / time.Second)
	if secs == 0 {
		secs = 1
	}
	err := v.cam.WaitForFrame(secs)
	var timeout *webcam.Timeout
	switch {
	case errors.As(err, &timeout):
		return nil, ErrNoFrame
	case err != nil:
		return nil, fmt.Errorf("wait for frame: %w", err)
	}

	frame, err := v.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	// ReadFrame returns the mmap'd buffer, which the driver reuses.
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// Close stops streaming and releases the device.
func (v *V4L2) Close() error {
	debug.Trace("Camera Close (%s)", v.device)
	stopErr := v.cam.StopStreaming()
	return errors.Join(stopErr, v.cam.Close())
}
