package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultServiceURL = "http://localhost:8000"
	defaultTimeout    = 60 * time.Second
)

// Extractor produces face embeddings for an image file.
type Extractor interface {
	Extract(ctx context.Context, path string, opts Options) (*Result, error)
}

// Client computes face embeddings using the embedding service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Extractor = (*Client)(nil)

// NewClient creates a client for the embedding service. An empty baseURL
// falls back to the local default; an empty apiKey sends no auth header.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Extract uploads the image at path and returns one embedding per detected
// face. An image without any detectable face fails with NoFaceError.
func (c *Client) Extract(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	prepared, err := PrepareImage(data, DefaultMaxDimension)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", path, err)
	}

	body, err := c.postRepresent(ctx, prepared, opts)
	if err != nil {
		var noFace *NoFaceError
		if errors.As(err, &noFace) {
			noFace.Path = path
		}
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Faces) == 0 {
		return nil, &NoFaceError{Path: path}
	}
	for _, f := range result.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", f.Index)
		}
	}
	return &result, nil
}

// postRepresent constructs a multipart form with the image data and the
// extraction options and posts it to the /represent endpoint. The image part
// carries an explicit Content-Type based on magic byte detection.
func (c *Client) postRepresent(ctx context.Context, imageData []byte, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	fields := map[string]string{
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"enforce_detection": strconv.FormatBool(opts.EnforceDetection),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/represent", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// The service answers 422 when detection is enforced and no face is
	// found; everything else non-200 is a plain API failure.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, &NoFaceError{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}
