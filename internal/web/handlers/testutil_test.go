package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// testConfig creates a minimal config for testing.
func testConfig() *config.Config {
	return &config.Config{
		FaceService: config.FaceServiceConfig{
			URL: "http://localhost:8000",
		},
		Match: config.MatchConfig{
			Model:    "VGG-Face",
			Detector: "opencv",
			Metric:   "cosine",
		},
	}
}

// fakeExtractor returns canned embeddings keyed by uploaded filename, so
// tests control exactly which face each image "contains". Unknown filenames
// report no face.
type fakeExtractor struct {
	model    string
	faces    map[string][]float32
	extracts int
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, opts extract.Options) (*extract.Result, error) {
	f.extracts++
	embedding, ok := f.faces[filepath.Base(path)]
	if !ok {
		return nil, &extract.NoFaceError{Path: path}
	}
	model := f.model
	if model == "" {
		model = opts.Model
	}
	return &extract.Result{
		FacesCount: 1,
		Faces: []extract.Face{{
			Index:      0,
			Dim:        len(embedding),
			Embedding:  embedding,
			BBox:       []float64{10, 10, 90, 90},
			Confidence: 0.99,
		}},
		Model:    model,
		Detector: opts.Detector,
	}, nil
}

// multipartRequest builds a multipart POST with string fields and fake image
// files. Every file gets the same tiny payload; the fake extractor keys off
// the filename, not the pixels.
func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}
	for field, filename := range files {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("failed to create form file %s: %v", field, err)
		}
		if _, err := part.Write([]byte("fake-image-bytes")); err != nil {
			t.Fatalf("failed to write form file %s: %v", field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// unitVector produces a dim-sized embedding pointing along one axis, which
// keeps expected cosine distances easy to reason about in tests.
func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// testThresholds returns the canonical threshold table.
func testThresholds(t *testing.T) *facematch.ThresholdTable {
	t.Helper()
	return facematch.DefaultThresholds()
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type.
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
