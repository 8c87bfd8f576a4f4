package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// okHandler is a trivial protected handler for middleware tests.
func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAPIKey_NoKeyConfigured(t *testing.T) {
	handler := RequireAPIKey("")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected open access with no key configured, got %d", recorder.Code)
	}
}

func TestRequireAPIKey_MissingHeader(t *testing.T) {
	handler := RequireAPIKey("secret")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", recorder.Code)
	}
}

func TestRequireAPIKey_WrongKey(t *testing.T) {
	handler := RequireAPIKey("secret")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	req.Header.Set("X-API-Key", "not-the-secret")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", recorder.Code)
	}
}

func TestRequireAPIKey_ValidHeader(t *testing.T) {
	handler := RequireAPIKey("secret")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	req.Header.Set("X-API-Key", "secret")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 with valid key, got %d", recorder.Code)
	}
}

func TestRequireAPIKey_BearerToken(t *testing.T) {
	handler := RequireAPIKey("secret")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	req.Header.Set("Authorization", "Bearer secret")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 with valid bearer token, got %d", recorder.Code)
	}
}

func TestRequireAPIKey_MalformedAuthorization(t *testing.T) {
	handler := RequireAPIKey("secret")(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/galleries", nil)
	req.Header.Set("Authorization", "secret")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with malformed Authorization header, got %d", recorder.Code)
	}
}

func TestCORS_PreflightRequest(t *testing.T) {
	handler := CORS()(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/verify", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected localhost origin to be allowed, got %q", got)
	}
	if !httpHeaderContains(recorder.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Error("expected X-API-Key in allowed headers")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	handler := CORS()(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header for unknown origin, got %q", got)
	}
	if recorder.Code != http.StatusOK {
		t.Errorf("request itself should still pass through, got %d", recorder.Code)
	}
}

func TestCORS_ConfiguredOrigin(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://faces.example.com, https://other.example.com")
	handler := CORS()(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://faces.example.com")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://faces.example.com" {
		t.Errorf("expected configured origin to be allowed, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := recorder.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

// httpHeaderContains checks a comma-separated header value for an entry.
func httpHeaderContains(header, want string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}
