package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// GalleriesHandler handles stored gallery management and async build jobs.
type GalleriesHandler struct {
	config     *config.Config
	extractor  extract.Extractor
	store      database.RepresentationWriter
	thresholds *facematch.ThresholdTable
	jobManager *JobManager
}

// NewGalleriesHandler creates a new galleries handler. store may be nil when
// the server runs without a database; all routes then report 503.
func NewGalleriesHandler(cfg *config.Config, extractor extract.Extractor, store database.RepresentationWriter, thresholds *facematch.ThresholdTable, jm *JobManager) *GalleriesHandler {
	return &GalleriesHandler{
		config:     cfg,
		extractor:  extractor,
		store:      store,
		thresholds: thresholds,
		jobManager: jm,
	}
}

// List handles GET /galleries.
func (h *GalleriesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	galleries, err := h.store.ListGalleries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("listing galleries: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"galleries": galleries,
		"count":     len(galleries),
	})
}

// labelSummary aggregates one identity inside a gallery.
type labelSummary struct {
	Label string `json:"label"`
	Faces int    `json:"faces"`
}

// representationView is a stored row without its embedding. Embeddings are
// up to 4096 floats and never belong in listing responses.
type representationView struct {
	SourcePath string    `json:"source_path"`
	FaceIndex  int       `json:"face_index"`
	BBox       []float64 `json:"bbox,omitempty"`
	DetScore   float64   `json:"det_score"`
}

// Get handles GET /galleries/{name}. The optional ?label= query narrows the
// response to one identity's stored representations; the label is matched
// after normalization, so spelling variants find the same person.
func (h *GalleriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing gallery name")
		return
	}

	if label := r.URL.Query().Get("label"); label != "" {
		h.getLabel(w, r, name, label)
		return
	}

	reps, err := h.store.GetByGallery(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("loading gallery: %v", err))
		return
	}
	if len(reps) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("gallery %q not found", sanitizeForLog(name)))
		return
	}

	counts := make(map[string]int)
	for _, rep := range reps {
		counts[rep.Label]++
	}
	labels := make([]labelSummary, 0, len(counts))
	for label, faces := range counts {
		labels = append(labels, labelSummary{Label: label, Faces: faces})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Label < labels[j].Label })

	respondJSON(w, http.StatusOK, map[string]any{
		"gallery":  name,
		"model":    reps[0].Model,
		"detector": reps[0].Detector,
		"faces":    len(reps),
		"labels":   labels,
	})
}

// getLabel serves the ?label= variant of Get.
func (h *GalleriesHandler) getLabel(w http.ResponseWriter, r *http.Request, name, label string) {
	reps, err := h.store.GetByLabel(r.Context(), name, label)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("loading label: %v", err))
		return
	}
	if len(reps) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("label %q not found in gallery %q", sanitizeForLog(label), sanitizeForLog(name)))
		return
	}

	views := make([]representationView, len(reps))
	for i, rep := range reps {
		views[i] = representationView{
			SourcePath: rep.SourcePath,
			FaceIndex:  rep.FaceIndex,
			BBox:       rep.BBox,
			DetScore:   rep.DetScore,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"gallery":         name,
		"label":           reps[0].Label,
		"representations": views,
	})
}

// Delete handles DELETE /galleries/{name}.
func (h *GalleriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing gallery name")
		return
	}

	deleted, err := h.store.DeleteGallery(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("deleting gallery: %v", err))
		return
	}
	if deleted == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("gallery %q not found", sanitizeForLog(name)))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"gallery": name,
		"deleted": deleted,
	})
}

// BuildRequest starts a gallery build. Dir is a server-side path: the
// service indexes directories it can reach, it does not accept bulk uploads.
type BuildRequest struct {
	Dir              string `json:"dir"`
	Model            string `json:"model"`
	Detector         string `json:"detector"`
	EnforceDetection *bool  `json:"enforce_detection"`
}

// Build handles POST /galleries/{name}/build: starts an async job that scans
// the directory, extracts embeddings for every face and atomically replaces
// the stored gallery.
func (h *GalleriesHandler) Build(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing gallery name")
		return
	}

	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Dir == "" {
		respondError(w, http.StatusBadRequest, "dir is required")
		return
	}
	info, err := os.Stat(req.Dir)
	if err != nil || !info.IsDir() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("dir %q is not a readable directory", sanitizeForLog(req.Dir)))
		return
	}

	model := req.Model
	if model == "" {
		model = h.config.Match.Model
	}
	if !h.thresholds.HasModel(model) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", sanitizeForLog(model)))
		return
	}
	detector := req.Detector
	if detector == "" {
		detector = h.config.Match.Detector
	}
	enforce := true
	if req.EnforceDetection != nil {
		enforce = *req.EnforceDetection
	}

	jobID := uuid.New().String()
	options := BuildJobOptions{
		Model:            model,
		Detector:         detector,
		EnforceDetection: enforce,
	}
	job := h.jobManager.CreateJob(jobID, name, req.Dir, options)

	go h.runBuildJob(job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"gallery": name,
		"status":  string(JobStatusPending),
	})
}

// JobStatus returns the status of a build job.
func (h *GalleriesHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// JobList returns all known build jobs.
func (h *GalleriesHandler) JobList(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// JobEvents streams build job events via SSE.
func (h *GalleriesHandler) JobEvents(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job
		},
	)
}

// JobCancel cancels a build job.
func (h *GalleriesHandler) JobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// listGalleryImages returns the image files directly under dir in sorted
// order, matching the scan order of CLI gallery builds.
func listGalleryImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read gallery directory: %w", err)
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !facematch.IsImageFile(entry.Name()) {
			continue
		}
		images = append(images, filepath.Join(dir, entry.Name()))
	}
	return images, nil
}

// runBuildJob runs the gallery build in the background.
func (h *GalleriesHandler) runBuildJob(job *BuildJob) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Gallery build started"})

	images, err := listGalleryImages(job.Dir)
	if err != nil {
		h.failJob(job, err.Error())
		return
	}
	if len(images) == 0 {
		h.failJob(job, fmt.Sprintf("no images found in %s", job.Dir))
		return
	}

	job.mu.Lock()
	job.TotalImages = len(images)
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "images_counted", Data: map[string]int{"total": len(images)}})

	opts := extract.Options{
		Model:            job.Options.Model,
		Detector:         job.Options.Detector,
		EnforceDetection: job.Options.EnforceDetection,
	}

	var reps []database.Representation
	var warnings []string
	skipped := 0
	labels := make(map[string]struct{})

	for i, path := range images {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}

		result, err := h.extractor.Extract(ctx, path, opts)
		if err != nil {
			skipped++
			warning := fmt.Sprintf("%s: %v", filepath.Base(path), err)
			warnings = append(warnings, warning)
			job.SendEvent(JobEvent{Type: "image_skipped", Message: warning})
		} else {
			label := facematch.LabelFromFilename(path)
			labels[label] = struct{}{}
			for _, face := range result.Faces {
				reps = append(reps, database.Representation{
					Gallery:    job.Gallery,
					Label:      label,
					SourcePath: path,
					FaceIndex:  face.Index,
					Embedding:  face.Embedding,
					BBox:       face.BBox,
					DetScore:   face.Confidence,
					Model:      job.Options.Model,
					Detector:   job.Options.Detector,
					Dim:        face.Dim,
				})
			}
		}

		job.mu.Lock()
		job.ProcessedImages = i + 1
		job.Progress = (i + 1) * 100 / len(images)
		job.mu.Unlock()
		job.SendEvent(JobEvent{
			Type: "progress",
			Data: map[string]any{
				"current": i + 1,
				"total":   len(images),
				"image":   filepath.Base(path),
			},
		})
	}

	if len(reps) == 0 {
		h.failJob(job, fmt.Sprintf("no usable faces in %s: all %d images were skipped", job.Dir, skipped))
		return
	}

	if err := h.store.ReplaceGallery(ctx, job.Gallery, reps); err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, fmt.Sprintf("storing gallery: %v", err))
		return
	}

	result := &BuildJobResult{
		Images:   len(images),
		Faces:    len(reps),
		Labels:   len(labels),
		Skipped:  skipped,
		Warnings: warnings,
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = result
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: result})
}

func (h *GalleriesHandler) failJob(job *BuildJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}
