package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// ThresholdsHandler serves the calibrated decision thresholds.
type ThresholdsHandler struct {
	thresholds *facematch.ThresholdTable
}

// NewThresholdsHandler creates a new thresholds handler.
func NewThresholdsHandler(thresholds *facematch.ThresholdTable) *ThresholdsHandler {
	return &ThresholdsHandler{thresholds: thresholds}
}

// ModelThresholds is the threshold entry for one embedding model.
type ModelThresholds struct {
	Model      string             `json:"model"`
	Dim        int                `json:"dim"`
	Thresholds map[string]float64 `json:"thresholds"`
}

// modelEntry assembles the response entry for one model. Missing
// (model, metric) pairs are simply absent from the map rather than zeroed.
func (h *ThresholdsHandler) modelEntry(model string) ModelThresholds {
	entry := ModelThresholds{
		Model:      model,
		Thresholds: make(map[string]float64),
	}
	if dim, ok := h.thresholds.Dim(model); ok {
		entry.Dim = dim
	}
	for _, metric := range facematch.Metrics() {
		if value, err := h.thresholds.ThresholdFor(model, metric); err == nil {
			entry.Thresholds[metric.String()] = value
		}
	}
	return entry
}

// List handles GET /thresholds.
func (h *ThresholdsHandler) List(w http.ResponseWriter, r *http.Request) {
	models := h.thresholds.Models()
	entries := make([]ModelThresholds, 0, len(models))
	for _, model := range models {
		entries = append(entries, h.modelEntry(model))
	}

	metrics := make([]string, 0, len(facematch.Metrics()))
	for _, metric := range facematch.Metrics() {
		metrics = append(metrics, metric.String())
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"metrics": metrics,
		"models":  entries,
	})
}

// Get handles GET /thresholds/{model}.
func (h *ThresholdsHandler) Get(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if model == "" {
		respondError(w, http.StatusBadRequest, "missing model name")
		return
	}
	if !h.thresholds.HasModel(model) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown model %q", sanitizeForLog(model)))
		return
	}
	respondJSON(w, http.StatusOK, h.modelEntry(model))
}
