package facematch

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultThresholds(t *testing.T) {
	table := DefaultThresholds()

	tests := []struct {
		model    string
		metric   Metric
		expected float64
	}{
		{"VGG-Face", MetricCosine, 0.68},
		{"VGG-Face", MetricEuclidean, 1.17},
		{"Facenet", MetricCosine, 0.40},
		{"Facenet", MetricEuclidean, 10},
		{"Facenet512", MetricEuclideanL2, 1.04},
		{"ArcFace", MetricCosine, 0.68},
		{"ArcFace", MetricEuclideanL2, 1.13},
		{"Dlib", MetricCosine, 0.07},
		{"SFace", MetricCosine, 0.593},
		{"GhostFaceNet", MetricEuclidean, 35.71},
	}

	for _, tt := range tests {
		t.Run(tt.model+"/"+tt.metric.String(), func(t *testing.T) {
			got, err := table.ThresholdFor(tt.model, tt.metric)
			if err != nil {
				t.Fatalf("ThresholdFor() unexpected error: %v", err)
			}
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("ThresholdFor() = %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestDefaultThresholdsDims(t *testing.T) {
	table := DefaultThresholds()

	tests := []struct {
		model string
		dim   int
	}{
		{"VGG-Face", 4096},
		{"Facenet", 128},
		{"Facenet512", 512},
		{"ArcFace", 512},
		{"Dlib", 128},
		{"SFace", 128},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			dim, ok := table.Dim(tt.model)
			if !ok {
				t.Fatalf("Dim(%q) not found", tt.model)
			}
			if dim != tt.dim {
				t.Errorf("Dim(%q) = %d, want %d", tt.model, dim, tt.dim)
			}
		})
	}

	if _, ok := table.Dim("NoSuchModel"); ok {
		t.Error("Dim() for unknown model should report not found")
	}
}

func TestThresholdForUnknownModel(t *testing.T) {
	table := DefaultThresholds()

	_, err := table.ThresholdFor("FaceNet9000", MetricCosine)
	var thErr *UnknownThresholdError
	if !errors.As(err, &thErr) {
		t.Fatalf("ThresholdFor() error = %v, want UnknownThresholdError", err)
	}
	if thErr.Model != "FaceNet9000" || thErr.Metric != MetricCosine {
		t.Errorf("UnknownThresholdError = %q/%q, want FaceNet9000/cosine", thErr.Model, thErr.Metric)
	}
}

func TestThresholdForMissingMetric(t *testing.T) {
	// A custom table can legitimately calibrate only some metrics; the
	// missing ones must fail the lookup instead of defaulting to zero.
	table, err := LoadThresholds([]byte(`
models:
  CustomNet:
    dim: 256
    cosine: 0.35
`))
	if err != nil {
		t.Fatalf("LoadThresholds() unexpected error: %v", err)
	}

	if _, err := table.ThresholdFor("CustomNet", MetricCosine); err != nil {
		t.Fatalf("ThresholdFor(cosine) unexpected error: %v", err)
	}

	_, err = table.ThresholdFor("CustomNet", MetricEuclidean)
	var thErr *UnknownThresholdError
	if !errors.As(err, &thErr) {
		t.Fatalf("ThresholdFor(euclidean) error = %v, want UnknownThresholdError", err)
	}
	if thErr.Model != "CustomNet" || thErr.Metric != MetricEuclidean {
		t.Errorf("UnknownThresholdError = %q/%q, want CustomNet/euclidean", thErr.Model, thErr.Metric)
	}
}

func TestLoadThresholdsExplicitZero(t *testing.T) {
	// An explicit zero threshold is a calibration choice, not an absent value.
	table, err := LoadThresholds([]byte(`
models:
  StrictNet:
    cosine: 0.0
`))
	if err != nil {
		t.Fatalf("LoadThresholds() unexpected error: %v", err)
	}
	got, err := table.ThresholdFor("StrictNet", MetricCosine)
	if err != nil {
		t.Fatalf("ThresholdFor() unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("ThresholdFor() = %f, want 0", got)
	}
}

func TestLoadThresholdsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "models: ["},
		{"no models", "models: {}"},
		{"empty document", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadThresholds([]byte(tt.data)); err == nil {
				t.Error("LoadThresholds() expected error, got nil")
			}
		})
	}
}

func TestModels(t *testing.T) {
	table := DefaultThresholds()
	models := table.Models()

	if len(models) != 10 {
		t.Fatalf("Models() returned %d entries, want 10", len(models))
	}
	for i := 1; i < len(models); i++ {
		if models[i-1] >= models[i] {
			t.Fatalf("Models() not sorted: %q before %q", models[i-1], models[i])
		}
	}
	if !table.HasModel("VGG-Face") {
		t.Error("HasModel(VGG-Face) = false, want true")
	}
	if table.HasModel("vgg-face") {
		t.Error("HasModel is expected to be case sensitive")
	}
}
