package facematch

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

// ThresholdTable maps (model, metric) pairs to calibrated decision
// thresholds. The table is static configuration data: lookups never derive
// or default a value, and an absent pair surfaces as UnknownThresholdError.
type ThresholdTable struct {
	models map[string]modelSpec
}

type thresholdFile struct {
	Models map[string]modelSpec `yaml:"models"`
}

// modelSpec uses pointers so an absent metric stays distinguishable from an
// explicit zero threshold.
type modelSpec struct {
	Dim         int      `yaml:"dim"`
	Cosine      *float64 `yaml:"cosine"`
	Euclidean   *float64 `yaml:"euclidean"`
	EuclideanL2 *float64 `yaml:"euclidean_l2"`
}

var (
	defaultTable     *ThresholdTable
	defaultTableOnce sync.Once
)

// DefaultThresholds returns the calibration table shipped with the binary,
// parsed once from the embedded YAML.
func DefaultThresholds() *ThresholdTable {
	defaultTableOnce.Do(func() {
		t, err := LoadThresholds(thresholdsYAML)
		if err != nil {
			// Embedded data, cannot fail in a correct build.
			panic("failed to parse embedded thresholds.yaml: " + err.Error())
		}
		defaultTable = t
	})
	return defaultTable
}

// LoadThresholds parses a threshold table in the same YAML format as the
// embedded one. Deployments with their own calibration data use this to
// replace the defaults wholesale.
func LoadThresholds(data []byte) (*ThresholdTable, error) {
	var f thresholdFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, errors.New("parse thresholds: no models defined")
	}
	return &ThresholdTable{models: f.Models}, nil
}

// ThresholdFor returns the calibrated threshold for a model/metric pair.
func (t *ThresholdTable) ThresholdFor(model string, metric Metric) (float64, error) {
	spec, ok := t.models[model]
	if !ok {
		return 0, &UnknownThresholdError{Model: model, Metric: metric}
	}
	var v *float64
	switch metric {
	case MetricCosine:
		v = spec.Cosine
	case MetricEuclidean:
		v = spec.Euclidean
	case MetricEuclideanL2:
		v = spec.EuclideanL2
	}
	if v == nil {
		return 0, &UnknownThresholdError{Model: model, Metric: metric}
	}
	return *v, nil
}

// Dim returns the embedding dimensionality declared for a model, if known.
func (t *ThresholdTable) Dim(model string) (int, bool) {
	spec, ok := t.models[model]
	if !ok || spec.Dim == 0 {
		return 0, false
	}
	return spec.Dim, true
}

// HasModel reports whether the table declares the given model.
func (t *ThresholdTable) HasModel(model string) bool {
	_, ok := t.models[model]
	return ok
}

// Models lists the configured model names, sorted.
func (t *ThresholdTable) Models() []string {
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
