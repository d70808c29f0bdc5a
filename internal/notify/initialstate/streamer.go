// Package initialstate streams events to an Initial State bucket.
package initialstate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public events endpoint.
const DefaultBaseURL = "https://groker.init.st"

// MaxObjectBytes caps a single logged object.
const MaxObjectBytes = 4 << 20

// ErrObjectTooLarge is returned by LogObject above MaxObjectBytes.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// Config identifies the bucket and account.
type Config struct {
	BaseURL    string
	BucketName string
	BucketKey  string
	AccessKey  string
}

type event struct {
	Key   string  `json:"key"`
	Value string  `json:"value"`
	Epoch float64 `json:"epoch"`
}

type bucket struct {
	BucketKey  string `json:"bucketKey"`
	BucketName string `json:"bucketName"`
}

// Streamer buffers events until Flush. The bucket is created on the first
// successful flush.
type Streamer struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	pending     []event
	bucketReady bool
}

// NewStreamer creates a Streamer. An empty BaseURL selects DefaultBaseURL.
func NewStreamer(cfg Config) *Streamer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Streamer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// Log buffers a key/value event stamped with the current time.
func (s *Streamer) Log(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, event{Key: key, Value: value, Epoch: epoch(s.now())})
}

// LogObject buffers r as a base64 data: URI event of the given MIME type.
func (s *Streamer) LogObject(key, mimeType string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectBytes+1))
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	if len(data) > MaxObjectBytes {
		return fmt.Errorf("%s: %w", key, ErrObjectTooLarge)
	}
	s.Log(key, "data:"+mimeType+";base64,"+base64.StdEncoding.EncodeToString(data))
	return nil
}

// Pending returns the number of buffered events.
func (s *Streamer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush sends every buffered event in one request. The buffer is emptied
// whether or not the request succeeds.
func (s *Streamer) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	ready := s.bucketReady
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if !ready {
		if err := s.post(ctx, "/api/buckets", bucket{BucketKey: s.cfg.BucketKey, BucketName: s.cfg.BucketName}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.BucketKey, err)
		}
		s.mu.Lock()
		s.bucketReady = true
		s.mu.Unlock()
	}
	if err := s.post(ctx, "/api/events", batch); err != nil {
		return fmt.Errorf("send %d events: %w", len(batch), err)
	}
	return nil
}

func (s *Streamer) post(ctx context.Context, path string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IS-AccessKey", s.cfg.AccessKey)
	req.Header.Set("X-IS-BucketKey", s.cfg.BucketKey)
	req.Header.Set("Accept-Version", "~0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// Close flushes whatever is still buffered.
func (s *Streamer) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.client.CloseIdleConnections()
	return err
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
