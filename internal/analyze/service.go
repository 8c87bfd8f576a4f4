package analyze

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
)

const serviceTimeout = 60 * time.Second

// ServiceClassifier runs attribute analysis on the face service, which hosts
// the dedicated demographic models. This is the default backend.
type ServiceClassifier struct {
	baseURL  string
	apiKey   string
	detector string
	client   *http.Client
}

var _ Classifier = (*ServiceClassifier)(nil)

// NewServiceClassifier creates a classifier backed by the face service's
// /analyze endpoint.
func NewServiceClassifier(baseURL, apiKey, detector string) *ServiceClassifier {
	return &ServiceClassifier{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		detector: detector,
		client:   &http.Client{Timeout: serviceTimeout},
	}
}

func (s *ServiceClassifier) Name() string {
	return "face-service"
}

// GetUsage returns zero usage; the face service is not billed per token.
func (s *ServiceClassifier) GetUsage() *Usage {
	return &Usage{}
}

// analyzeResponse mirrors the service's /analyze payload: one entry per
// detected face, strongest face first.
type analyzeResponse struct {
	FacesCount int            `json:"faces_count"`
	Results    []Demographics `json:"results"`
}

// Analyze uploads the image and returns the attributes of the most
// prominent face.
func (s *ServiceClassifier) Analyze(ctx context.Context, imageData []byte, actions []string) (*Demographics, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("actions", strings.Join(actions, ",")); err != nil {
		return nil, fmt.Errorf("failed to write actions field: %w", err)
	}
	if s.detector != "" {
		if err := writer.WriteField("detector_backend", s.detector); err != nil {
			return nil, fmt.Errorf("failed to write detector field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/analyze", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var analyzeResp analyzeResponse
	if err := json.Unmarshal(body, &analyzeResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(analyzeResp.Results) == 0 {
		return nil, ErrNoFace
	}

	result := analyzeResp.Results[0]
	FillDominants(&result)
	return &result, nil
}
