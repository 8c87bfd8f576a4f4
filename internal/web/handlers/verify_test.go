package handlers

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newVerifyHandler(t *testing.T, faces map[string][]float32) *VerifyHandler {
	t.Helper()
	extractor := &fakeExtractor{faces: faces}
	return NewVerifyHandler(testConfig(), extractor, testThresholds(t))
}

func TestVerify_SamePerson(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{
		"a.jpg": unitVector(8, 0),
		"b.jpg": unitVector(8, 0),
	})

	req := multipartRequest(t, "/api/v1/verify", nil, map[string]string{
		"img1": "a.jpg",
		"img2": "b.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp VerifyResponse
	parseJSONResponse(t, recorder, &resp)

	if !resp.Verified {
		t.Error("expected identical embeddings to verify")
	}
	if math.Abs(resp.Distance) > 0.0001 {
		t.Errorf("expected distance 0, got %f", resp.Distance)
	}
	if resp.Model != "VGG-Face" {
		t.Errorf("expected config default model, got %q", resp.Model)
	}
	if math.Abs(resp.Threshold-0.68) > 0.0001 {
		t.Errorf("expected VGG-Face cosine threshold 0.68, got %f", resp.Threshold)
	}
	if len(resp.FacialAreas["img1"]) != 4 {
		t.Errorf("expected bbox for img1, got %v", resp.FacialAreas["img1"])
	}
}

func TestVerify_DifferentPerson(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{
		"a.jpg": unitVector(8, 0),
		"b.jpg": unitVector(8, 1),
	})

	req := multipartRequest(t, "/api/v1/verify", nil, map[string]string{
		"img1": "a.jpg",
		"img2": "b.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp VerifyResponse
	parseJSONResponse(t, recorder, &resp)

	if resp.Verified {
		t.Error("expected orthogonal embeddings not to verify")
	}
	if math.Abs(resp.Distance-1.0) > 0.0001 {
		t.Errorf("expected cosine distance 1.0, got %f", resp.Distance)
	}
}

func TestVerify_MetricOverride(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{
		"a.jpg": unitVector(8, 0),
		"b.jpg": unitVector(8, 0),
	})

	req := multipartRequest(t, "/api/v1/verify", map[string]string{
		"metric": "euclidean_l2",
	}, map[string]string{
		"img1": "a.jpg",
		"img2": "b.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp VerifyResponse
	parseJSONResponse(t, recorder, &resp)

	if string(resp.Metric) != "euclidean_l2" {
		t.Errorf("expected metric euclidean_l2, got %q", resp.Metric)
	}
	if math.Abs(resp.Threshold-1.17) > 0.0001 {
		t.Errorf("expected VGG-Face euclidean_l2 threshold 1.17, got %f", resp.Threshold)
	}
}

func TestVerify_MissingSecondImage(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{"a.jpg": unitVector(8, 0)})

	req := multipartRequest(t, "/api/v1/verify", nil, map[string]string{
		"img1": "a.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "img2 is required")
}

func TestVerify_UnknownModel(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{
		"a.jpg": unitVector(8, 0),
		"b.jpg": unitVector(8, 0),
	})

	req := multipartRequest(t, "/api/v1/verify", map[string]string{
		"model": "NotAModel",
	}, map[string]string{
		"img1": "a.jpg",
		"img2": "b.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestVerify_UnknownMetric(t *testing.T) {
	handler := newVerifyHandler(t, map[string][]float32{
		"a.jpg": unitVector(8, 0),
		"b.jpg": unitVector(8, 0),
	})

	req := multipartRequest(t, "/api/v1/verify", map[string]string{
		"metric": "manhattan",
	}, map[string]string{
		"img1": "a.jpg",
		"img2": "b.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestVerify_NoFaceDetected(t *testing.T) {
	// Extractor knows a.jpg but not landscape.jpg.
	handler := newVerifyHandler(t, map[string][]float32{"a.jpg": unitVector(8, 0)})

	req := multipartRequest(t, "/api/v1/verify", nil, map[string]string{
		"img1": "a.jpg",
		"img2": "landscape.jpg",
	})
	recorder := httptest.NewRecorder()
	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
}
