package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-match/internal/analyze"
	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/constants"
)

// Provider names accepted by the analyze endpoint.
const (
	providerService  = "service"
	providerOpenAI   = "openai"
	providerGemini   = "gemini"
	providerOllama   = "ollama"
	providerLlamaCpp = "llamacpp"
)

// AnalyzeHandler handles facial attribute analysis.
type AnalyzeHandler struct {
	config *config.Config
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(cfg *config.Config) *AnalyzeHandler {
	return &AnalyzeHandler{config: cfg}
}

// AnalyzeResponse is the payload of an analysis run.
type AnalyzeResponse struct {
	Provider     string               `json:"provider"`
	Actions      []string             `json:"actions"`
	Demographics analyze.Demographics `json:"demographics"`
}

// Analyze handles POST /analyze: age, gender, race and emotion estimation
// for the most prominent face. The default backend is the face service's
// analyzer; vision LLM providers are selectable per request.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	actions, err := parseActionsField(r.FormValue("actions"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	providerName := formString(r, "provider", providerService)
	detector := formString(r, "detector", h.config.Match.Detector)
	classifier, err := h.createClassifier(r.Context(), providerName, detector)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	imageData, _, err := readFormFile(r, "img")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	demographics, err := classifier.Analyze(r.Context(), imageData, actions)
	if err != nil {
		if errors.Is(err, analyze.ErrNoFace) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, AnalyzeResponse{
		Provider:     classifier.Name(),
		Actions:      actions,
		Demographics: *demographics,
	})
}

// parseActionsField splits a comma-separated actions field and validates it.
// Empty means all actions.
func parseActionsField(field string) ([]string, error) {
	var actions []string
	for _, a := range strings.Split(field, ",") {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	return analyze.ParseActions(actions)
}

// createClassifier builds the attribute classifier for the requested
// provider. Configuration problems (missing tokens) are client-visible
// errors since the provider choice came from the request.
func (h *AnalyzeHandler) createClassifier(ctx context.Context, providerName, detector string) (analyze.Classifier, error) {
	switch providerName {
	case providerService:
		return analyze.NewServiceClassifier(h.config.FaceService.URL, h.config.FaceService.APIKey, detector), nil
	case providerOpenAI:
		if h.config.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		pricing := h.config.GetModelPricing("gpt-4.1-mini")
		return analyze.NewOpenAIClassifier(h.config.OpenAI.Token,
			analyze.RequestPricing{Input: pricing.Input, Output: pricing.Output}), nil
	case providerGemini:
		if h.config.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := h.config.GetModelPricing("gemini-2.5-flash")
		classifier, err := analyze.NewGeminiClassifier(ctx, h.config.Gemini.APIKey, h.config.Gemini.Model,
			analyze.RequestPricing{Input: pricing.Input, Output: pricing.Output})
		if err != nil {
			return nil, fmt.Errorf("creating Gemini classifier: %w", err)
		}
		return classifier, nil
	case providerOllama:
		return analyze.NewOllamaClassifier(h.config.Ollama.URL, h.config.Ollama.Model), nil
	case providerLlamaCpp:
		classifier, err := analyze.NewLlamaCppClassifier(h.config.LlamaCpp.URL, h.config.LlamaCpp.Model)
		if err != nil {
			return nil, fmt.Errorf("creating llama.cpp classifier: %w", err)
		}
		return classifier, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}
