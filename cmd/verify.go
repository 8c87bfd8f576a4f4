package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <img1> <img2>",
	Short: "Verify whether two face images show the same person",
	Long: `Verify whether two face images show the same person.

Both images are sent to the face embedding service, the distance between
the resulting embeddings is computed and compared against the calibrated
threshold for the chosen model and metric. The most prominent face is
used when an image contains several.

Examples:
  # Verify with the default model (ArcFace, cosine distance)
  face-match verify alice1.jpg alice2.jpg

  # Use a different model and metric
  face-match verify a.jpg b.jpg --model Facenet512 --metric euclidean_l2

  # Machine-readable result
  face-match verify a.jpg b.jpg --json

  # Use a custom threshold calibration
  face-match verify a.jpg b.jpg --thresholds ./thresholds.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("model", "ArcFace", "Embedding model")
	verifyCmd.Flags().String("detector", "dlib", "Face detector backend")
	verifyCmd.Flags().String("metric", "cosine", "Distance metric: cosine, euclidean, euclidean_l2")
	verifyCmd.Flags().Bool("no-enforce", false, "Do not fail when no face is detected")
	verifyCmd.Flags().String("thresholds", "", "YAML file overriding the built-in threshold table")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	verifyCmd.Flags().String("out", "", "Write the JSON result to a file")
}

// newExtractor creates the embedding service client from configuration.
func newExtractor(cfg *config.Config) *extract.Client {
	return extract.NewClient(
		cfg.FaceService.URL,
		cfg.FaceService.APIKey,
		time.Duration(cfg.FaceService.Timeout)*time.Second,
	)
}

// extractPrimaryFace extracts the most prominent face from an image.
func extractPrimaryFace(ctx context.Context, ext extract.Extractor, path string, opts extract.Options) (extract.Face, error) {
	result, err := ext.Extract(ctx, path, opts)
	if err != nil {
		return extract.Face{}, err
	}
	face, ok := result.PrimaryFace()
	if !ok {
		return extract.Face{}, &extract.NoFaceError{Path: path}
	}
	return face, nil
}

// loadThresholdTable returns the built-in threshold table, or the one from
// the given YAML file when the path is non-empty.
func loadThresholdTable(path string) (*facematch.ThresholdTable, error) {
	if path == "" {
		return facematch.DefaultThresholds(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-provided calibration file
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file: %w", err)
	}
	table, err := facematch.LoadThresholds(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load thresholds file %s: %w", path, err)
	}
	return table, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	model := mustGetString(cmd, "model")
	detector := mustGetString(cmd, "detector")
	noEnforce := mustGetBool(cmd, "no-enforce")
	jsonOutput := mustGetBool(cmd, "json")
	outPath := mustGetString(cmd, "out")

	metric, err := facematch.ParseMetric(mustGetString(cmd, "metric"))
	if err != nil {
		return err
	}

	thresholds, err := loadThresholdTable(mustGetString(cmd, "thresholds"))
	if err != nil {
		return err
	}
	// Fail on an uncalibrated model/metric pair before paying for two
	// extractions.
	if _, err := thresholds.ThresholdFor(model, metric); err != nil {
		return err
	}

	cfg := config.Load()
	extractor := newExtractor(cfg)
	opts := extract.Options{
		Model:            model,
		Detector:         detector,
		EnforceDetection: !noEnforce,
	}

	ctx := context.Background()

	if !jsonOutput {
		fmt.Printf("Extracting faces (%s, detector %s)...\n", model, detector)
	}
	face1, err := extractPrimaryFace(ctx, extractor, args[0], opts)
	if err != nil {
		return err
	}
	face2, err := extractPrimaryFace(ctx, extractor, args[1], opts)
	if err != nil {
		return err
	}

	result, err := facematch.Verify(face1.Embedding, face2.Embedding, model, metric, thresholds)
	if err != nil {
		return err
	}

	if outPath != "" {
		if err := writeJSONFile(outPath, result); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("\nModel:     %s\n", result.Model)
	fmt.Printf("Metric:    %s\n", result.Metric)
	fmt.Printf("Distance:  %.4f\n", result.Distance)
	fmt.Printf("Threshold: %.4f\n", result.Threshold)
	if result.Verified {
		fmt.Println("\nSame person (distance within threshold)")
	} else {
		fmt.Println("\nDifferent people (distance exceeds threshold)")
	}
	if outPath != "" {
		fmt.Printf("\nResult written to %s\n", outPath)
	}
	return nil
}
