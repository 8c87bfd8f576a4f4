package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/constants"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// VerifyHandler handles the pairwise face verification endpoint.
type VerifyHandler struct {
	config     *config.Config
	extractor  extract.Extractor
	thresholds *facematch.ThresholdTable
}

// NewVerifyHandler creates a new verify handler.
func NewVerifyHandler(cfg *config.Config, extractor extract.Extractor, thresholds *facematch.ThresholdTable) *VerifyHandler {
	return &VerifyHandler{
		config:     cfg,
		extractor:  extractor,
		thresholds: thresholds,
	}
}

// VerifyResponse is the payload of a successful verification.
type VerifyResponse struct {
	facematch.VerificationResult

	Detector    string               `json:"detector"`
	FacialAreas map[string][]float64 `json:"facial_areas"`
	Confidence  map[string]float64   `json:"face_confidence"`
}

// Verify handles POST /verify: two face images in, a same-person decision
// out. Model, detector and metric default to the server-wide match config.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	model := formString(r, "model", h.config.Match.Model)
	detector := formString(r, "detector", h.config.Match.Detector)
	metric, err := facematch.ParseMetric(formString(r, "metric", h.config.Match.Metric))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Reject unknown model/metric pairs before paying for two extractions.
	if _, err := h.thresholds.ThresholdFor(model, metric); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	enforce := formBool(r, "enforce", true)

	tempDir, err := os.MkdirTemp("", "face-match-verify-*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create temp directory")
		return
	}
	defer os.RemoveAll(tempDir)

	path1, err := saveFormFile(r, "img1", tempDir)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path2, err := saveFormFile(r, "img2", tempDir)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := extract.Options{Model: model, Detector: detector, EnforceDetection: enforce}
	face1, err := extractQueryFace(r.Context(), h.extractor, path1, opts)
	if err != nil {
		respondExtractError(w, err)
		return
	}
	face2, err := extractQueryFace(r.Context(), h.extractor, path2, opts)
	if err != nil {
		respondExtractError(w, err)
		return
	}

	result, err := facematch.Verify(face1.Embedding, face2.Embedding, model, metric, h.thresholds)
	if err != nil {
		// Thresholds were checked up front, so a failure here means the
		// extractor returned embeddings the metric cannot compare.
		var dim *facematch.DimensionMismatchError
		if errors.As(err, &dim) || errors.Is(err, facematch.ErrDegenerateVector) {
			respondError(w, http.StatusBadGateway, "face service returned incomparable embeddings: "+err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, VerifyResponse{
		VerificationResult: result,
		Detector:           detector,
		FacialAreas: map[string][]float64{
			"img1": face1.BBox,
			"img2": face2.BBox,
		},
		Confidence: map[string]float64{
			"img1": face1.Confidence,
			"img2": face2.Confidence,
		},
	})
}
