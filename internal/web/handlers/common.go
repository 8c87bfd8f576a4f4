package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-match/internal/extract"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// formString reads a multipart form value, falling back to a default when the
// field is absent or empty.
func formString(r *http.Request, key, defaultVal string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return defaultVal
}

// formBool reads a multipart form value as a boolean. Absent or unparseable
// values return the default.
func formBool(r *http.Request, key string, defaultVal bool) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// formInt reads a multipart form value as an integer. Absent or unparseable
// values return the default.
func formInt(r *http.Request, key string, defaultVal int) int {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// saveUploadedFile writes one multipart file into tempDir and returns its
// path. The original filename is kept (base name only) because gallery labels
// and error messages are derived from it.
func saveUploadedFile(fileHeader *multipart.FileHeader, tempDir string) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %s", fileHeader.Filename)
	}
	defer file.Close()

	safeName := filepath.Base(fileHeader.Filename)
	if safeName == "." || safeName == string(filepath.Separator) {
		return "", fmt.Errorf("invalid filename: %s", fileHeader.Filename)
	}
	tempPath := filepath.Join(tempDir, safeName)
	out, err := os.Create(tempPath) //nolint:gosec // filename sanitized via filepath.Base
	if err != nil {
		return "", errors.New("failed to create temp file")
	}

	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return "", errors.New("failed to save file")
	}
	out.Close()

	return tempPath, nil
}

// saveFormFile saves the first uploaded file of a multipart field into
// tempDir. Missing field is an error the caller should map to 400.
func saveFormFile(r *http.Request, field, tempDir string) (string, error) {
	if r.MultipartForm == nil {
		return "", fmt.Errorf("%s is required", field)
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return "", fmt.Errorf("%s is required", field)
	}
	return saveUploadedFile(files[0], tempDir)
}

// readFormFile reads the first uploaded file of a multipart field into
// memory. Used by endpoints that forward raw bytes instead of paths.
func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	if r.MultipartForm == nil {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %s", files[0].Filename)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("failed to read file")
	}
	return data, filepath.Base(files[0].Filename), nil
}

// extractQueryFace runs the extractor on an image and returns its most
// prominent face. A result with zero faces is normalized to NoFaceError so
// callers have a single not-found path regardless of how the service reports
// it.
func extractQueryFace(ctx context.Context, extractor extract.Extractor, path string, opts extract.Options) (extract.Face, error) {
	result, err := extractor.Extract(ctx, path, opts)
	if err != nil {
		return extract.Face{}, err
	}
	face, ok := result.PrimaryFace()
	if !ok {
		return extract.Face{}, &extract.NoFaceError{Path: path}
	}
	return face, nil
}

// respondExtractError maps extraction failures to HTTP statuses: images
// without a detectable face are a client problem (422), everything else is
// an upstream failure (502).
func respondExtractError(w http.ResponseWriter, err error) {
	var noFace *extract.NoFaceError
	if errors.As(err, &noFace) {
		respondError(w, http.StatusUnprocessableEntity, noFace.Error())
		return
	}
	respondError(w, http.StatusBadGateway, fmt.Sprintf("face extraction failed: %v", err))
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
