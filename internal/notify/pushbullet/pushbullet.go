// Package pushbullet pushes captured images to a Pushbullet account.
package pushbullet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/capture"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ notify.Channel = (*Channel)(nil)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.pushbullet.com"

// maxErrorBody caps how much of an error response is quoted back.
const maxErrorBody = 512

type uploadRequest struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type uploadResponse struct {
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileURL   string `json:"file_url"`
	UploadURL string `json:"upload_url"`
}

type filePush struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url"`
	Body     string `json:"body,omitempty"`
}

// Channel sends every captured image as a file push. Payloads without an
// image are ignored.
type Channel struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Pushbullet channel. An empty baseURL selects DefaultBaseURL.
func New(apiKey, baseURL string, logger *zap.Logger) *Channel {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With(zap.String("channel", "pushbullet")),
	}
}

// Name returns the channel identifier.
func (c *Channel) Name() string {
	return "pushbullet"
}

// Deliver uploads the artifact and pushes it.
func (c *Channel) Deliver(ctx context.Context, p notify.Payload) error {
	if p.Artifact == nil {
		return nil
	}
	data, err := p.Artifact.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", p.Artifact.Name, err)
	}

	up, err := c.requestUpload(ctx, p.Artifact)
	if err != nil {
		return err
	}
	if err := c.upload(ctx, up, data); err != nil {
		return err
	}
	if err := c.push(ctx, up); err != nil {
		return err
	}

	c.logger.Info("Image sent with Pushbullet.",
		zap.String("file", up.FileName),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func (c *Channel) requestUpload(ctx context.Context, a *capture.Artifact) (*uploadResponse, error) {
	var up uploadResponse
	err := c.postJSON(ctx, "/v2/upload-request", uploadRequest{FileName: a.Name, FileType: a.MimeType}, &up)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	if up.UploadURL == "" || up.FileURL == "" {
		return nil, fmt.Errorf("upload request: incomplete response")
	}
	if up.FileName == "" {
		up.FileName = a.Name
	}
	if up.FileType == "" {
		up.FileType = a.MimeType
	}
	return &up, nil
}

func (c *Channel) upload(ctx context.Context, up *uploadResponse, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", up.FileName)
	if err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, up.UploadURL, &body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, nil)
}

func (c *Channel) push(ctx context.Context, up *uploadResponse) error {
	push := filePush{
		Type:     "file",
		FileName: up.FileName,
		FileType: up.FileType,
		FileURL:  up.FileURL,
	}
	if err := c.postJSON(ctx, "/v2/pushes", push, nil); err != nil {
		return fmt.Errorf("push file: %w", err)
	}
	return nil
}

func (c *Channel) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", c.apiKey)
	return c.do(req, out)
}

func (c *Channel) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("POST %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// Close drops idle keep-alive connections.
func (c *Channel) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
