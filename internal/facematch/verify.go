package facematch

// VerificationResult is the outcome of a pairwise same-person decision.
type VerificationResult struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Model     string  `json:"model"`
	Metric    Metric  `json:"metric"`
}

// Verify decides whether two embeddings belong to the same person under the
// model's calibrated threshold for the chosen metric. The decision rule is
// distance <= threshold, nothing else. A distance exactly at the threshold
// verifies.
func Verify(a, b []float32, model string, metric Metric, thresholds *ThresholdTable) (VerificationResult, error) {
	distance, err := Distance(a, b, metric)
	if err != nil {
		return VerificationResult{}, err
	}
	threshold, err := thresholds.ThresholdFor(model, metric)
	if err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{
		Verified:  distance <= threshold,
		Distance:  distance,
		Threshold: threshold,
		Model:     model,
		Metric:    metric,
	}, nil
}
