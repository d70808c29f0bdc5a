package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/camera"
	"github.com/google/uuid"
)

// TimestampLayout names captured files, to the second.
const TimestampLayout = "2006-01-02_15-04-05"

// MimeJPEG is the type of every stored artifact.
const MimeJPEG = "image/jpeg"

var (
	// ErrCapture wraps device failures and empty frames.
	ErrCapture = errors.New("image capture failed")
	// ErrDirectory wraps failures to create the image directory.
	ErrDirectory = errors.New("image directory unavailable")
)

// maxSuffix bounds the search for a free file name within one second.
const maxSuffix = 100

// Artifact is a captured image on disk plus its metadata. It is handed to
// the notification channels and then dropped; the file itself stays.
type Artifact struct {
	ID        uuid.UUID
	Path      string
	Name      string
	MimeType  string
	Size      int64
	CreatedAt time.Time
}

// Open returns a reader over the stored image.
func (a *Artifact) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// ReadAll returns the stored image bytes.
func (a *Artifact) ReadAll() ([]byte, error) {
	return os.ReadFile(a.Path)
}

// Store takes photos and writes them as timestamped JPEG files.
type Store struct {
	camera camera.Camera
	dir    string
	now    func() time.Time
}

func NewStore(c camera.Camera, dir string) *Store {
	return &Store{
		camera: c,
		dir:    dir,
		now:    time.Now,
	}
}

// Dir returns the image directory.
func (s *Store) Dir() string {
	return s.dir
}

// Capture ensures the image directory exists, grabs one frame and stores it
// as <timestamp>.jpg. A name already taken in the same second gets a -N
// suffix.
func (s *Store) Capture(ctx context.Context) (*Artifact, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	frame, err := s.camera.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrCapture, camera.ErrNoFrame)
	}

	createdAt := s.now()
	stamp := createdAt.Format(TimestampLayout)
	for n := 0; n < maxSuffix; n++ {
		name := stamp + ".jpg"
		if n > 0 {
			name = stamp + "-" + strconv.Itoa(n) + ".jpg"
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCapture, err)
		}
		if _, err := f.Write(frame); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("%w: write %s: %v", ErrCapture, name, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("%w: close %s: %v", ErrCapture, name, err)
		}

		debug.Live("Image captured: %s (%d bytes)", path, len(frame))
		return &Artifact{
			ID:        uuid.New(),
			Path:      path,
			Name:      name,
			MimeType:  MimeJPEG,
			Size:      int64(len(frame)),
			CreatedAt: createdAt,
		}, nil
	}
	return nil, fmt.Errorf("%w: no free file name for %s", ErrCapture, stamp)
}

// Close releases the camera.
func (s *Store) Close() error {
	return s.camera.Close()
}
