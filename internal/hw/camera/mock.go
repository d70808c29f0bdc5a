package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
)

// Mock is a Camera that renders a JPEG test card. Used for development on
// PC or testing. A vertical bar moves with the wall clock so successive
// frames differ.
type Mock struct {
	Width  int
	Height int

	grabs atomic.Int64
	now   func() time.Time
}

// NewMock returns a test-card camera of the given size.
func NewMock(width, height int) *Mock {
	debug.Info("Using MOCK camera (development mode)")
	return &Mock{Width: width, Height: height, now: time.Now}
}

func (m *Mock) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	bar := int(m.now().Unix()%60) * m.Width / 60
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / max(m.Width-1, 1)),
				G: uint8(y * 255 / max(m.Height-1, 1)),
				B: 96,
				A: 255,
			}
			if x >= bar && x < bar+m.Width/60+1 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	m.grabs.Add(1)
	return buf.Bytes(), nil
}

// Grabs returns the number of frames produced.
func (m *Mock) Grabs() int64 {
	return m.grabs.Load()
}

func (m *Mock) Close() error {
	debug.Trace("Camera Close (mock)")
	return nil
}
