package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-match/internal/analyze"
	"github.com/kozaktomas/face-match/internal/config"
)

// setupMockAnalyzeService fakes the face service's /analyze endpoint.
func setupMockAnalyzeService(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func analyzeConfigFor(serviceURL string) *config.Config {
	cfg := testConfig()
	cfg.FaceService.URL = serviceURL
	return cfg
}

func TestAnalyze_ServiceProvider(t *testing.T) {
	var gotActions string
	server := setupMockAnalyzeService(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("service received bad form: %v", err)
		}
		gotActions = r.FormValue("actions")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 1,
			"results": []map[string]any{{
				"age":             34,
				"dominant_gender": "Woman",
				"gender":          map[string]float64{"Woman": 99.2, "Man": 0.8},
				"emotion":         map[string]float64{"happy": 90.0, "neutral": 10.0},
				"race":            map[string]float64{"white": 70.0, "asian": 30.0},
				"face_confidence": 0.98,
			}},
		})
	})

	handler := NewAnalyzeHandler(analyzeConfigFor(server.URL))

	req := multipartRequest(t, "/api/v1/analyze", map[string]string{
		"actions": "age, gender",
	}, map[string]string{
		"img": "portrait.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp AnalyzeResponse
	parseJSONResponse(t, recorder, &resp)

	if resp.Provider != "face-service" {
		t.Errorf("expected face-service provider, got %q", resp.Provider)
	}
	if gotActions != "age,gender" {
		t.Errorf("expected actions forwarded as 'age,gender', got %q", gotActions)
	}
	if resp.Demographics.Age != 34 {
		t.Errorf("expected age 34, got %d", resp.Demographics.Age)
	}
	if resp.Demographics.DominantGender != "Woman" {
		t.Errorf("expected dominant gender Woman, got %q", resp.Demographics.DominantGender)
	}
	// FillDominants derives missing dominant fields from the score maps.
	if resp.Demographics.DominantEmotion != "happy" {
		t.Errorf("expected derived dominant emotion happy, got %q", resp.Demographics.DominantEmotion)
	}
}

func TestAnalyze_DefaultActions(t *testing.T) {
	var gotActions string
	server := setupMockAnalyzeService(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		gotActions = r.FormValue("actions")
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 1,
			"results":     []map[string]any{{"age": 30}},
		})
	})

	handler := NewAnalyzeHandler(analyzeConfigFor(server.URL))

	req := multipartRequest(t, "/api/v1/analyze", nil, map[string]string{
		"img": "portrait.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if gotActions != "age,gender,race,emotion" {
		t.Errorf("expected the full default action set, got %q", gotActions)
	}
}

func TestAnalyze_NoFace(t *testing.T) {
	server := setupMockAnalyzeService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 0,
			"results":     []map[string]any{},
		})
	})

	handler := NewAnalyzeHandler(analyzeConfigFor(server.URL))

	req := multipartRequest(t, "/api/v1/analyze", nil, map[string]string{
		"img": "landscape.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	assertJSONError(t, recorder, analyze.ErrNoFace.Error())
}

func TestAnalyze_UnknownAction(t *testing.T) {
	handler := NewAnalyzeHandler(testConfig())

	req := multipartRequest(t, "/api/v1/analyze", map[string]string{
		"actions": "age,mood",
	}, map[string]string{
		"img": "portrait.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAnalyze_MissingImage(t *testing.T) {
	handler := NewAnalyzeHandler(testConfig())

	req := multipartRequest(t, "/api/v1/analyze", map[string]string{"actions": "age"}, nil)
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "img is required")
}

func TestAnalyze_OpenAIWithoutToken(t *testing.T) {
	handler := NewAnalyzeHandler(testConfig())

	req := multipartRequest(t, "/api/v1/analyze", map[string]string{
		"provider": "openai",
	}, map[string]string{
		"img": "portrait.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "OPENAI_TOKEN environment variable is required")
}

func TestAnalyze_UnknownProvider(t *testing.T) {
	handler := NewAnalyzeHandler(testConfig())

	req := multipartRequest(t, "/api/v1/analyze", map[string]string{
		"provider": "skynet",
	}, map[string]string{
		"img": "portrait.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Analyze(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "unknown provider: skynet")
}
