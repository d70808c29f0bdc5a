package initialstate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/capture"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGroker records bucket creations and event batches.
type fakeGroker struct {
	mu          sync.Mutex
	buckets     []bucket
	batches     [][]event
	headers     []http.Header
	eventStatus int
	srv         *httptest.Server
}

func newFakeGroker(t *testing.T) *fakeGroker {
	t.Helper()
	f := &fakeGroker{eventStatus: http.StatusNoContent}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/buckets", func(w http.ResponseWriter, r *http.Request) {
		var b bucket
		_ = json.NewDecoder(r.Body).Decode(&b)
		f.mu.Lock()
		f.buckets = append(f.buckets, b)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/events", func(w http.ResponseWriter, r *http.Request) {
		var batch []event
		_ = json.NewDecoder(r.Body).Decode(&batch)
		f.mu.Lock()
		f.batches = append(f.batches, batch)
		f.headers = append(f.headers, r.Header.Clone())
		status := f.eventStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGroker) config() Config {
	return Config{
		BaseURL:    f.srv.URL,
		BucketName: "TrackerInterface",
		BucketKey:  "bucket_key",
		AccessKey:  "access_key",
	}
}

func TestStreamer_FlushSendsBufferedEvents(t *testing.T) {
	g := newFakeGroker(t)
	s := NewStreamer(g.config())
	s.now = func() time.Time { return time.Unix(1700000000, 500000000) }

	s.Log("Temperature (F)", "71.6")
	s.Log("Humidity (%)", "45.0")
	assert.Equal(t, 2, s.Pending())
	require.NoError(t, s.Flush(context.Background()))
	assert.Zero(t, s.Pending())

	require.Len(t, g.batches, 1)
	assert.Equal(t, []event{
		{Key: "Temperature (F)", Value: "71.6", Epoch: 1700000000.5},
		{Key: "Humidity (%)", Value: "45.0", Epoch: 1700000000.5},
	}, g.batches[0])

	h := g.headers[len(g.headers)-1]
	assert.Equal(t, "access_key", h.Get("X-IS-AccessKey"))
	assert.Equal(t, "bucket_key", h.Get("X-IS-BucketKey"))
	assert.Equal(t, "~0", h.Get("Accept-Version"))
}

func TestStreamer_BucketCreatedOnce(t *testing.T) {
	g := newFakeGroker(t)
	s := NewStreamer(g.config())

	for i := 0; i < 3; i++ {
		s.Log("Monitoring Status", "Active")
		require.NoError(t, s.Flush(context.Background()))
	}
	require.Len(t, g.buckets, 1)
	assert.Equal(t, bucket{BucketKey: "bucket_key", BucketName: "TrackerInterface"}, g.buckets[0])
	assert.Len(t, g.batches, 3)
}

func TestStreamer_FlushEmptyIsNoop(t *testing.T) {
	g := newFakeGroker(t)
	s := NewStreamer(g.config())
	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, g.buckets)
	assert.Empty(t, g.batches)
}

func TestStreamer_LogObjectDataURI(t *testing.T) {
	g := newFakeGroker(t)
	s := NewStreamer(g.config())
	img := []byte{0xFF, 0xD8, 0xFF, 0xD9}

	require.NoError(t, s.LogObject("Camera", "image/jpeg", bytes.NewReader(img)))
	require.NoError(t, s.Flush(context.Background()))

	require.Len(t, g.batches, 1)
	want := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
	assert.Equal(t, want, g.batches[0][0].Value)
}

func TestNewStreamer_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, "https://groker.init.st", NewStreamer(Config{}).cfg.BaseURL)
	assert.Equal(t, "http://local", NewStreamer(Config{BaseURL: "http://local/"}).cfg.BaseURL)
}

func TestStreamer_LogObjectTooLarge(t *testing.T) {
	s := NewStreamer(Config{})
	err := s.LogObject("Camera", "image/jpeg", strings.NewReader(strings.Repeat("x", MaxObjectBytes+1)))
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.Zero(t, s.Pending())
}

func TestStreamer_FlushErrorDropsBatch(t *testing.T) {
	g := newFakeGroker(t)
	g.eventStatus = http.StatusInternalServerError
	s := NewStreamer(g.config())

	s.Log("Temperature (F)", "71.6")
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Zero(t, s.Pending())
}

func TestChannel_DeliverFlushesOncePerPayload(t *testing.T) {
	g := newFakeGroker(t)
	ch := New(g.config(), nil)

	path := filepath.Join(t.TempDir(), "shot.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8}, 0o644))
	p := notify.Payload{
		Events:   notify.ReadingEvents(71.6, 45),
		Artifact: &capture.Artifact{Path: path, Name: "shot.jpg", MimeType: capture.MimeJPEG},
	}

	require.NoError(t, ch.Deliver(context.Background(), p))
	require.Len(t, g.batches, 1)
	batch := g.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, "Temperature (F)", batch[0].Key)
	assert.Equal(t, "Humidity (%)", batch[1].Key)
	assert.Equal(t, "Camera", batch[2].Key)
	assert.True(t, strings.HasPrefix(batch[2].Value, "data:image/jpeg;base64,"))
}

func TestChannel_MissingArtifactStillSendsEvents(t *testing.T) {
	g := newFakeGroker(t)
	ch := New(g.config(), nil)
	p := notify.Payload{
		Events:   notify.ReadingEvents(60, 50),
		Artifact: &capture.Artifact{Path: filepath.Join(t.TempDir(), "gone.jpg"), Name: "gone.jpg"},
	}

	require.Error(t, ch.Deliver(context.Background(), p))
	require.Len(t, g.batches, 1)
	assert.Len(t, g.batches[0], 2)
}

func TestChannel_CloseFlushesPending(t *testing.T) {
	g := newFakeGroker(t)
	s := NewStreamer(g.config())
	ch := NewWithStreamer(s, nil)

	s.Log("Monitoring Status", "Inactive")
	require.NoError(t, ch.Close())
	require.Len(t, g.batches, 1)
	assert.Equal(t, "initialstate", ch.Name())
}
