package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/spf13/cobra"
)

var gallerySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Extract a gallery directory and store it in PostgreSQL",
	Long: `Extract face embeddings from every image in a directory and store them
as a named gallery in PostgreSQL. The stored gallery backs the HTTP API's
recognition and similarity endpoints.

Labels are derived from filenames (img_anna.jpg -> anna). Re-running sync
replaces the gallery atomically, so removed images disappear from the store.

Examples:
  face-match gallery sync --db ./people --name team
  face-match gallery sync --db ./people --name team --model Facenet512 --detector retinaface`,
	RunE: runGallerySync,
}

func init() {
	galleryCmd.AddCommand(gallerySyncCmd)

	gallerySyncCmd.Flags().String("db", "", "Directory with labeled reference images (required)")
	gallerySyncCmd.Flags().String("name", "", "Gallery name (required)")
	gallerySyncCmd.Flags().String("model", "VGG-Face", "Embedding model")
	gallerySyncCmd.Flags().String("detector", "opencv", "Face detector backend")
	gallerySyncCmd.Flags().Bool("no-enforce", false, "Do not fail images where no face is detected")
	gallerySyncCmd.Flags().Bool("json", false, "Output as JSON")
}

// SyncResult represents the result of a gallery sync operation
type SyncResult struct {
	Gallery       string `json:"gallery"`
	Model         string `json:"model"`
	Detector      string `json:"detector"`
	Images        int    `json:"images"`
	Faces         int    `json:"faces"`
	Labels        int    `json:"labels"`
	Skipped       int    `json:"skipped"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runGallerySync(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "db")
	name := mustGetString(cmd, "name")
	model := mustGetString(cmd, "model")
	detector := mustGetString(cmd, "detector")
	noEnforce := mustGetBool(cmd, "no-enforce")
	jsonOutput := mustGetBool(cmd, "json")

	if dir == "" {
		return errors.New("--db is required")
	}
	if name == "" {
		return errors.New("--name is required")
	}
	if !facematch.DefaultThresholds().HasModel(model) {
		return fmt.Errorf("unknown model %q (known: %s)",
			model, strings.Join(facematch.DefaultThresholds().Models(), ", "))
	}

	cfg := config.Load()
	store, err := initGalleryStore(cfg)
	if err != nil {
		return err
	}

	extractor := newExtractor(cfg)
	opts := extract.Options{
		Model:            model,
		Detector:         detector,
		EnforceDetection: !noEnforce,
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

	start := time.Now()

	scan, err := scanGalleryDir(ctx, extractor, dir, opts, nil, "", jsonOutput)
	if err != nil {
		return err
	}
	for _, skip := range scan.Skipped {
		warnf(jsonOutput, "Warning: skipped %s\n", skip)
	}
	if len(scan.Faces) == 0 {
		return fmt.Errorf("no usable faces in %s: %d image(s) scanned, %d skipped",
			dir, scan.Images, len(scan.Skipped))
	}

	reps := make([]database.Representation, 0, len(scan.Faces))
	labels := make(map[string]struct{})
	for _, f := range scan.Faces {
		labels[f.Label] = struct{}{}
		reps = append(reps, database.Representation{
			Gallery:    name,
			Label:      f.Label,
			SourcePath: f.SourcePath,
			FaceIndex:  f.FaceIndex,
			Embedding:  f.Embedding,
			BBox:       f.BBox,
			DetScore:   f.DetScore,
			Model:      model,
			Detector:   detector,
			Dim:        len(f.Embedding),
		})
	}

	if err := store.ReplaceGallery(ctx, name, reps); err != nil {
		return fmt.Errorf("failed to store gallery: %w", err)
	}

	duration := time.Since(start)
	result := SyncResult{
		Gallery:       name,
		Model:         model,
		Detector:      detector,
		Images:        scan.Images,
		Faces:         len(reps),
		Labels:        len(labels),
		Skipped:       len(scan.Skipped),
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Synced gallery %q: %d identities, %d faces from %d image(s) in %s\n",
		result.Gallery, result.Labels, result.Faces, result.Images, result.DurationHuman)
	if result.Skipped > 0 {
		fmt.Printf("Skipped %d image(s)\n", result.Skipped)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
