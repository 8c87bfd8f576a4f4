package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/constants"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
)

// SimilarHandler handles raw nearest-neighbor search over stored
// representations. Unlike recognition it reports individual rows, not
// identities, so one person with five reference photos can fill five slots.
type SimilarHandler struct {
	config    *config.Config
	extractor extract.Extractor
	store     database.RepresentationReader
}

// NewSimilarHandler creates a new similar handler.
func NewSimilarHandler(cfg *config.Config, extractor extract.Extractor, store database.RepresentationReader) *SimilarHandler {
	return &SimilarHandler{
		config:    cfg,
		extractor: extractor,
		store:     store,
	}
}

// SimilarMatch is one nearest representation row.
type SimilarMatch struct {
	Label      string  `json:"label"`
	SourcePath string  `json:"source_path"`
	FaceIndex  int     `json:"face_index"`
	Distance   float64 `json:"distance"`
}

// Similar handles POST /similar: the query face's nearest stored
// representations in one gallery, by cosine distance ascending. The search
// is scoped to a single gallery because rows from different models do not
// share a distance space.
func (h *SimilarHandler) Similar(w http.ResponseWriter, r *http.Request) {
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
	limit := formInt(r, "limit", constants.DefaultSimilarLimit)
	if limit < 1 {
		respondError(w, http.StatusBadRequest, "limit must be >= 1")
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

	detector := formString(r, "detector", reps[0].Detector)
	if detector == "" {
		detector = h.config.Match.Detector
	}
	enforce := formBool(r, "enforce", true)

	tempDir, err := os.MkdirTemp("", "face-match-similar-*")
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

	opts := extract.Options{Model: reps[0].Model, Detector: detector, EnforceDetection: enforce}
	face, err := extractQueryFace(r.Context(), h.extractor, path, opts)
	if err != nil {
		respondExtractError(w, err)
		return
	}

	found, distances, err := h.store.FindSimilar(r.Context(), galleryName, face.Embedding, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("similarity search: %v", err))
		return
	}

	matches := make([]SimilarMatch, len(found))
	for i, rep := range found {
		matches[i] = SimilarMatch{
			Label:      rep.Label,
			SourcePath: rep.SourcePath,
			FaceIndex:  rep.FaceIndex,
			Distance:   distances[i],
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"gallery": galleryName,
		"model":   reps[0].Model,
		"query":   QueryFace{BBox: face.BBox, Confidence: face.Confidence},
		"matches": matches,
	})
}
