package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/constants"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// RecognizeHandler handles identity recognition against a stored gallery.
type RecognizeHandler struct {
	config     *config.Config
	extractor  extract.Extractor
	store      database.RepresentationReader
	thresholds *facematch.ThresholdTable
}

// NewRecognizeHandler creates a new recognize handler. store may be nil when
// the server runs without a database; the endpoint then reports 503.
func NewRecognizeHandler(cfg *config.Config, extractor extract.Extractor, store database.RepresentationReader, thresholds *facematch.ThresholdTable) *RecognizeHandler {
	return &RecognizeHandler{
		config:     cfg,
		extractor:  extractor,
		store:      store,
		thresholds: thresholds,
	}
}

// RecognizeMatch is one ranked candidate in the response. Match reports the
// threshold verdict; the ranking itself never filters.
type RecognizeMatch struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
	Match    bool    `json:"match"`
}

// RecognizeResponse is the payload of a recognition run.
type RecognizeResponse struct {
	Gallery   string           `json:"gallery"`
	Model     string           `json:"model"`
	Metric    string           `json:"metric"`
	Threshold float64          `json:"threshold"`
	Query     QueryFace        `json:"query"`
	Matches   []RecognizeMatch `json:"matches"`
}

// QueryFace describes the face picked from the query image.
type QueryFace struct {
	BBox       []float64 `json:"bbox,omitempty"`
	Confidence float64   `json:"det_score,omitempty"`
}

// Recognize handles POST /recognize: one query image ranked against a stored
// gallery. The gallery's own model drives the extraction so query and
// references always share an embedding space; a conflicting model field is
// rejected rather than reinterpreted.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	galleryName := formString(r, "gallery", "")
	if galleryName == "" {
		respondError(w, http.StatusBadRequest, "gallery is required")
		return
	}

	reps, err := h.store.GetByGallery(r.Context(), galleryName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("loading gallery: %v", err))
		return
	}
	if len(reps) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("gallery %q not found", sanitizeForLog(galleryName)))
		return
	}

	galleryModel := reps[0].Model
	model := formString(r, "model", galleryModel)
	if model != galleryModel {
		err := &facematch.ModelMismatchError{Want: galleryModel, Got: model}
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	metric, err := facematch.ParseMetric(formString(r, "metric", h.config.Match.Metric))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold, err := h.thresholds.ThresholdFor(model, metric)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	detector := formString(r, "detector", reps[0].Detector)
	if detector == "" {
		detector = h.config.Match.Detector
	}
	topK := formInt(r, "top_k", 0)
	if topK < 0 {
		respondError(w, http.StatusBadRequest, facematch.ErrInvalidTopK.Error())
		return
	}
	foldLabels := formBool(r, "fold_labels", false)
	enforce := formBool(r, "enforce", true)

	tempDir, err := os.MkdirTemp("", "face-match-recognize-*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create temp directory")
		return
	}
	defer os.RemoveAll(tempDir)

	path, err := saveFormFile(r, "img", tempDir)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := extract.Options{Model: model, Detector: detector, EnforceDetection: enforce}
	face, err := extractQueryFace(r.Context(), h.extractor, path, opts)
	if err != nil {
		respondExtractError(w, err)
		return
	}

	gallery, err := galleryFromRepresentations(model, reps, foldLabels)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("assembling gallery: %v", err))
		return
	}

	var matches []facematch.Match
	if topK == 0 {
		matches, err = facematch.RankAll(face.Embedding, gallery, model, metric)
	} else {
		matches, err = facematch.Rank(face.Embedding, gallery, model, metric, topK)
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("ranking failed: %v", err))
		return
	}

	out := make([]RecognizeMatch, len(matches))
	for i, m := range matches {
		out[i] = RecognizeMatch{
			Label:    m.Label,
			Distance: m.Distance,
			Rank:     m.Rank,
			Match:    m.Distance <= threshold,
		}
	}

	respondJSON(w, http.StatusOK, RecognizeResponse{
		Gallery:   galleryName,
		Model:     model,
		Metric:    metric.String(),
		Threshold: threshold,
		Query:     QueryFace{BBox: face.BBox, Confidence: face.Confidence},
		Matches:   out,
	})
}

// galleryFromRepresentations assembles an in-memory gallery from stored rows.
// Row order is the repository's insertion order, which keeps tie-breaking
// stable across requests. foldLabels collapses label spelling variants
// ("Jan_Novak", "jan-novák") into one identity.
func galleryFromRepresentations(model string, reps []database.Representation, foldLabels bool) (*facematch.Gallery, error) {
	entries := make([]facematch.Entry, 0, len(reps))
	for _, rep := range reps {
		label := rep.Label
		if foldLabels {
			label = facematch.NormalizeLabel(label)
		}
		entries = append(entries, facematch.Entry{
			Label:  label,
			Vector: rep.Embedding,
			Source: rep.SourcePath,
		})
	}
	return facematch.NewGallery(model, entries)
}
