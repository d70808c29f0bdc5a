package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/camera"
)

// fakeCamera returns a fixed frame or error and counts Grab calls.
type fakeCamera struct {
	frame  []byte
	err    error
	grabs  int
	closed bool
}

func (f *fakeCamera) Grab(ctx context.Context) ([]byte, error) {
	f.grabs++
	return f.frame, f.err
}

func (f *fakeCamera) Close() error {
	f.closed = true
	return nil
}

var fixedTime = time.Date(2024, 7, 14, 9, 5, 3, 0, time.Local)

func newTestStore(t *testing.T, cam camera.Camera) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "images")
	s := NewStore(cam, dir)
	s.now = func() time.Time { return fixedTime }
	return s, dir
}

func TestCapture_CreatesDirectoryAndFile(t *testing.T) {
	cam := &fakeCamera{frame: []byte("jpegdata")}
	s, dir := newTestStore(t, cam)

	art, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if art.Name != "2024-07-14_09-05-03.jpg" {
		t.Errorf("Name = %q, want 2024-07-14_09-05-03.jpg", art.Name)
	}
	if art.Path != filepath.Join(dir, art.Name) {
		t.Errorf("Path = %q", art.Path)
	}
	if art.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q", art.MimeType)
	}
	if art.Size != int64(len("jpegdata")) {
		t.Errorf("Size = %d", art.Size)
	}
	if !art.CreatedAt.Equal(fixedTime) {
		t.Errorf("CreatedAt = %v", art.CreatedAt)
	}
	data, err := art.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("jpegdata")) {
		t.Errorf("stored %q", data)
	}
}

func TestCapture_ExistingDirectoryIsFine(t *testing.T) {
	cam := &fakeCamera{frame: []byte("x")}
	s, dir := newTestStore(t, cam)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(context.Background()); err != nil {
		t.Fatalf("Capture with existing dir: %v", err)
	}
}

func TestCapture_SameSecondGetsUniqueNames(t *testing.T) {
	cam := &fakeCamera{frame: []byte("x")}
	s, _ := newTestStore(t, cam)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		art, err := s.Capture(context.Background())
		if err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
		if seen[art.Name] {
			t.Fatalf("duplicate name %q", art.Name)
		}
		seen[art.Name] = true
	}
	for _, want := range []string{"2024-07-14_09-05-03.jpg", "2024-07-14_09-05-03-1.jpg", "2024-07-14_09-05-03-2.jpg"} {
		if !seen[want] {
			t.Errorf("missing %q in %v", want, seen)
		}
	}
}

func TestCapture_UniqueIDs(t *testing.T) {
	cam := &fakeCamera{frame: []byte("x")}
	s, _ := newTestStore(t, cam)
	a, _ := s.Capture(context.Background())
	b, _ := s.Capture(context.Background())
	if a.ID == b.ID {
		t.Error("artifacts should have distinct IDs")
	}
}

func TestCapture_NoFrame(t *testing.T) {
	cases := []struct {
		name string
		cam  *fakeCamera
	}{
		{"device_error", &fakeCamera{err: camera.ErrNoFrame}},
		{"empty_frame", &fakeCamera{frame: nil}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, dir := newTestStore(t, tc.cam)
			art, err := s.Capture(context.Background())
			if art != nil {
				t.Errorf("expected nil artifact, got %+v", art)
			}
			if !errors.Is(err, ErrCapture) || !errors.Is(err, camera.ErrNoFrame) {
				t.Errorf("err = %v, want ErrCapture wrapping ErrNoFrame", err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("no file should be written, found %d", len(entries))
			}
		})
	}
}

func TestCapture_DirectoryError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cam := &fakeCamera{frame: []byte("x")}
	s := NewStore(cam, filepath.Join(blocker, "images"))

	_, err := s.Capture(context.Background())
	if !errors.Is(err, ErrDirectory) {
		t.Errorf("err = %v, want ErrDirectory", err)
	}
	if cam.grabs != 0 {
		t.Errorf("camera should not be used when the directory is unavailable")
	}
}

func TestCapture_WithMockCamera(t *testing.T) {
	s, _ := newTestStore(t, camera.NewMock(16, 16))
	art, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	rc, err := art.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	head := make([]byte, 2)
	if _, err := rc.Read(head); err != nil {
		t.Fatal(err)
	}
	if head[0] != 0xFF || head[1] != 0xD8 {
		t.Errorf("file does not start with a JPEG SOI marker: % x", head)
	}
}

func TestStore_CloseReleasesCamera(t *testing.T) {
	cam := &fakeCamera{}
	s, _ := newTestStore(t, cam)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !cam.closed {
		t.Error("camera not closed")
	}
}
