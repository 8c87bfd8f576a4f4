package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Identify a face against a gallery of reference images",
	Long: `Identify the person in an image by ranking a gallery of reference
images by embedding distance.

Every image in the --db directory becomes a reference; its file name
(without extension) is the identity label. Multiple images of the same
person share a label and the closest one counts. Reference images where
no face can be extracted are skipped with a warning; the query image
must contain a face.

Matches are reported in ascending distance order. Each match carries a
verdict against the calibrated threshold for the chosen model and
metric; ranking itself never filters.

Examples:
  # Rank the whole gallery
  face-match recognize query.jpg --db ./people

  # Different model and metric
  face-match recognize query.jpg --db ./people --model Facenet512 --metric euclidean_l2

  # Only the best 3 identities, as JSON
  face-match recognize query.jpg --db ./people --top-k 3 --json

  # Cache extractions for repeated runs against the same gallery
  face-match recognize query.jpg --db ./people --cache ./people/.face-match.cache`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("db", "", "Directory of reference images (required)")
	recognizeCmd.Flags().String("model", "VGG-Face", "Embedding model")
	recognizeCmd.Flags().String("detector", "opencv", "Face detector backend")
	recognizeCmd.Flags().String("metric", "cosine", "Distance metric: cosine, euclidean, euclidean_l2")
	recognizeCmd.Flags().Int("top-k", 0, "Number of identities to report (0 = whole gallery)")
	recognizeCmd.Flags().Bool("no-enforce", false, "Do not fail images where no face is detected")
	recognizeCmd.Flags().String("cache", "", "Extraction cache file (speeds up repeated runs)")
	recognizeCmd.Flags().Bool("fold-labels", false, "Group labels case- and diacritic-insensitively")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
	recognizeCmd.Flags().String("out", "", "Write the JSON report to a file")
}

// recognizeFlags holds the parsed flags for the recognize command.
type recognizeFlags struct {
	imagePath  string
	db         string
	model      string
	detector   string
	topK       int
	noEnforce  bool
	cachePath  string
	foldLabels bool
	jsonOutput bool
	outPath    string
}

// RecognizeMatch is one ranked identity in a recognition report.
type RecognizeMatch struct {
	Rank     int     `json:"rank"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
	Match    bool    `json:"match"`
}

// RecognizeReport is the JSON output of the recognize command.
type RecognizeReport struct {
	Query     string           `json:"query"`
	DB        string           `json:"db"`
	Model     string           `json:"model"`
	Detector  string           `json:"detector"`
	Metric    string           `json:"metric"`
	Threshold float64          `json:"threshold"`
	Images    int              `json:"images"`
	Faces     int              `json:"faces"`
	Labels    int              `json:"labels"`
	Skipped   []string         `json:"skipped,omitempty"`
	Matches   []RecognizeMatch `json:"matches"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	flags := &recognizeFlags{
		imagePath:  args[0],
		db:         mustGetString(cmd, "db"),
		model:      mustGetString(cmd, "model"),
		detector:   mustGetString(cmd, "detector"),
		topK:       mustGetInt(cmd, "top-k"),
		noEnforce:  mustGetBool(cmd, "no-enforce"),
		cachePath:  mustGetString(cmd, "cache"),
		foldLabels: mustGetBool(cmd, "fold-labels"),
		jsonOutput: mustGetBool(cmd, "json"),
		outPath:    mustGetString(cmd, "out"),
	}
	if flags.db == "" {
		return errors.New("--db is required")
	}

	metric, err := facematch.ParseMetric(mustGetString(cmd, "metric"))
	if err != nil {
		return err
	}

	// Fail on an uncalibrated model/metric pair before extracting anything.
	thresholds := facematch.DefaultThresholds()
	threshold, err := thresholds.ThresholdFor(flags.model, metric)
	if err != nil {
		return err
	}

	cfg := config.Load()
	extractor := newExtractor(cfg)
	opts := extract.Options{
		Model:            flags.model,
		Detector:         flags.detector,
		EnforceDetection: !flags.noEnforce,
	}

	// Gallery extraction can take minutes; let Ctrl+C cancel it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal...")
		cancel()
	}()

	if !flags.jsonOutput {
		fmt.Printf("Extracting query face from %s...\n", flags.imagePath)
	}
	queryFace, err := extractPrimaryFace(ctx, extractor, flags.imagePath, opts)
	if err != nil {
		return err
	}

	var snap *database.Snapshot
	if flags.cachePath != "" {
		snap = database.LoadSnapshot(flags.cachePath, flags.model, flags.detector)
		if !flags.jsonOutput && snap.Len() > 0 {
			fmt.Printf("Loaded extraction cache with %d image(s)\n", snap.Len())
		}
	}

	scan, err := scanGalleryDir(ctx, extractor, flags.db, opts, snap, flags.cachePath, flags.jsonOutput)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := snap.Save(flags.cachePath); err != nil {
			warnf(flags.jsonOutput, "Warning: failed to save cache: %v\n", err)
		}
	}
	for _, skip := range scan.Skipped {
		warnf(flags.jsonOutput, "Warning: skipped %s\n", skip)
	}

	gallery, err := galleryFromScan(flags.model, scan, flags.foldLabels)
	if err != nil {
		if errors.Is(err, facematch.ErrEmptyGallery) {
			return fmt.Errorf("no usable faces in %s: %d image(s) scanned, %d skipped",
				flags.db, scan.Images, len(scan.Skipped))
		}
		return err
	}

	var matches []facematch.Match
	if flags.topK == 0 {
		matches, err = facematch.RankAll(queryFace.Embedding, gallery, flags.model, metric)
	} else {
		matches, err = facematch.Rank(queryFace.Embedding, gallery, flags.model, metric, flags.topK)
	}
	if err != nil {
		return err
	}

	report := RecognizeReport{
		Query:     flags.imagePath,
		DB:        flags.db,
		Model:     flags.model,
		Detector:  flags.detector,
		Metric:    string(metric),
		Threshold: threshold,
		Images:    scan.Images,
		Faces:     gallery.Len(),
		Labels:    gallery.LabelCount(),
		Skipped:   scan.Skipped,
		Matches:   make([]RecognizeMatch, 0, len(matches)),
	}
	for _, m := range matches {
		report.Matches = append(report.Matches, RecognizeMatch{
			Rank:     m.Rank,
			Label:    m.Label,
			Distance: m.Distance,
			Match:    m.Distance <= threshold,
		})
	}

	if flags.outPath != "" {
		if err := writeJSONFile(flags.outPath, report); err != nil {
			return err
		}
	}
	if flags.jsonOutput {
		return outputJSON(report)
	}

	printRecognizeReport(&report, scan.CacheHits)
	if flags.outPath != "" {
		fmt.Printf("\nReport written to %s\n", flags.outPath)
	}
	return nil
}

// galleryFromScan converts scanned faces into an in-memory gallery. With
// folding enabled, labels are normalized so that spelling variants of the
// same name count as one identity.
func galleryFromScan(model string, scan *scanResult, foldLabels bool) (*facematch.Gallery, error) {
	entries := make([]facematch.Entry, 0, len(scan.Faces))
	for _, f := range scan.Faces {
		label := f.Label
		if foldLabels {
			label = facematch.NormalizeLabel(label)
		}
		entries = append(entries, facematch.Entry{
			Label:  label,
			Vector: f.Embedding,
			Source: f.SourcePath,
		})
	}
	return facematch.NewGallery(model, entries)
}

// printRecognizeReport prints the human-readable ranking table.
func printRecognizeReport(report *RecognizeReport, cacheHits int) {
	fmt.Printf("\nGallery: %d identities, %d faces across %d image(s)", report.Labels, report.Faces, report.Images)
	if cacheHits > 0 {
		fmt.Printf(" (%d from cache)", cacheHits)
	}
	fmt.Println()
	fmt.Printf("Threshold: %.4f (%s, %s)\n\n", report.Threshold, report.Model, report.Metric)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tLABEL\tDISTANCE\tMATCH")
	fmt.Fprintln(w, "----\t-----\t--------\t-----")
	for i := range report.Matches {
		m := &report.Matches[i]
		verdict := "no"
		if m.Match {
			verdict = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%s\n", m.Rank, m.Label, m.Distance, verdict)
	}
	w.Flush()

	if len(report.Matches) > 0 && report.Matches[0].Match {
		fmt.Printf("\nBest match: %s (distance %.4f)\n", report.Matches[0].Label, report.Matches[0].Distance)
	} else {
		fmt.Println("\nNo identity within the threshold")
	}
}
