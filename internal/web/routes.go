package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-match/internal/web/handlers"
	"github.com/kozaktomas/face-match/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	verifyHandler := handlers.NewVerifyHandler(s.config, s.deps.Extractor, s.deps.Thresholds)
	recognizeHandler := handlers.NewRecognizeHandler(s.config, s.deps.Extractor, s.deps.Store, s.deps.Thresholds)
	similarHandler := handlers.NewSimilarHandler(s.config, s.deps.Extractor, s.deps.Store)
	analyzeHandler := handlers.NewAnalyzeHandler(s.config)
	galleriesHandler := handlers.NewGalleriesHandler(s.config, s.deps.Extractor, s.deps.Store, s.deps.Thresholds, s.jobManager)
	thresholdsHandler := handlers.NewThresholdsHandler(s.deps.Thresholds)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

			// Thresholds
			r.Get("/thresholds", thresholdsHandler.List)
			r.Get("/thresholds/{model}", thresholdsHandler.Get)

			// Matching
			r.Post("/verify", verifyHandler.Verify)
			r.Post("/recognize", recognizeHandler.Recognize)
			r.Post("/analyze", analyzeHandler.Analyze)
			r.Post("/similar", similarHandler.Similar)

			// Galleries
			r.Get("/galleries", galleriesHandler.List)
			r.Get("/galleries/{name}", galleriesHandler.Get)
			r.Delete("/galleries/{name}", galleriesHandler.Delete)
			r.Post("/galleries/{name}/build", galleriesHandler.Build)

			// Build jobs (long-running operations)
			r.Get("/jobs", galleriesHandler.JobList)
			r.Get("/jobs/{jobId}", galleriesHandler.JobStatus)
			r.Get("/jobs/{jobId}/events", galleriesHandler.JobEvents)
			r.Delete("/jobs/{jobId}", galleriesHandler.JobCancel)
		})
	})

	// API-only server: point humans at the API and answer everything else
	// with a JSON 404 instead of chi's plain-text default.
	s.router.Get("/", s.serveIndex)
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	})
}

// serveIndex answers the server root with a minimal service descriptor.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"service": "face-match", "health": "/api/v1/health"}`))
}
