package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-match/internal/constants"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/extract"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/kozaktomas/face-match/internal/fingerprint"
	"github.com/schollz/progressbar/v3"
)

// listImageFiles returns the image files in a directory, sorted by name.
func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !facematch.IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// scanResult holds the outcome of extracting every image in a directory.
type scanResult struct {
	Faces     []database.SnapshotEntry // all detected faces, in sorted filename order
	Images    int                      // images that produced at least one face
	Skipped   []string                 // "file: reason" per failed image
	CacheHits int
}

// extractImageFaces returns the faces for one image, consulting the snapshot
// cache first when one is provided. All detected faces are kept (after IoU
// dedupe); each becomes a separate entry under the image's label.
func extractImageFaces(ctx context.Context, ext extract.Extractor, path string, opts extract.Options, snap *database.Snapshot) ([]database.SnapshotEntry, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}

	if snap != nil {
		if cached, ok := snap.Lookup(path, info.Size(), info.ModTime()); ok {
			return cached, true, nil
		}
	}

	result, err := ext.Extract(ctx, path, opts)
	if err != nil {
		return nil, false, err
	}

	faces := extract.DedupeFaces(result.Faces, constants.IoUThreshold)
	label := facematch.LabelFromFilename(path)
	faceEntries := make([]database.SnapshotEntry, 0, len(faces))
	for _, f := range faces {
		faceEntries = append(faceEntries, database.SnapshotEntry{
			Label:      label,
			SourcePath: path,
			FileSize:   info.Size(),
			ModTime:    info.ModTime(),
			FaceIndex:  f.Index,
			Embedding:  f.Embedding,
			BBox:       f.BBox,
			DetScore:   f.Confidence,
		})
	}

	if snap != nil {
		snap.Put(path, faceEntries)
	}
	return faceEntries, false, nil
}

// scanGalleryDir extracts faces from every image in a directory using a
// bounded worker pool. Results keep the sorted filename order regardless of
// worker completion order. A non-nil snapshot serves cached extractions for
// unchanged files and is saved to snapPath periodically during the scan.
func scanGalleryDir(ctx context.Context, ext extract.Extractor, dir string, opts extract.Options, snap *database.Snapshot, snapPath string, jsonOutput bool) (*scanResult, error) {
	files, err := listImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Extracting faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("imgs"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	perFile := make([][]database.SnapshotEntry, len(files))
	skips := make([]string, len(files))
	var cacheHits, processed int64

	sem := make(chan struct{}, constants.WorkerPoolSize)
	var wg sync.WaitGroup

	for i, path := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			faceEntries, fromCache, err := extractImageFaces(ctx, ext, path, opts, snap)
			if err != nil {
				skips[i] = fmt.Sprintf("%s: %v", filepath.Base(path), err)
			} else {
				perFile[i] = faceEntries
				if fromCache {
					atomic.AddInt64(&cacheHits, 1)
				}
			}

			if snapPath != "" && atomic.AddInt64(&processed, 1)%constants.SnapshotSaveInterval == 0 {
				if err := snap.Save(snapPath); err != nil {
					warnf(jsonOutput, "Warning: failed to save cache: %v\n", err)
				}
			}
			if bar != nil {
				bar.Add(1)
			}
		}(i, path)
	}
	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &scanResult{CacheHits: int(cacheHits)}
	for i := range files {
		if skips[i] != "" {
			result.Skipped = append(result.Skipped, skips[i])
			continue
		}
		result.Images++
		result.Faces = append(result.Faces, perFile[i]...)
	}

	warnNearDuplicates(files, jsonOutput)

	return result, nil
}

// warnNearDuplicates flags pairs of reference images whose perceptual hashes
// are nearly identical. Duplicate references inflate a label's entry count
// without adding information.
func warnNearDuplicates(files []string, jsonOutput bool) {
	type fileHash struct {
		name string
		bits uint64
	}

	hashes := make([]fileHash, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path) //nolint:gosec // gallery files were just listed
		if err != nil {
			continue
		}
		h, err := fingerprint.ComputeHashes(data)
		if err != nil {
			// Not decodable locally; the extraction service has its own verdict.
			continue
		}
		hashes = append(hashes, fileHash{name: filepath.Base(path), bits: h.PHashBits})
	}

	for i := 0; i < len(hashes); i++ {
		for j := i + 1; j < len(hashes); j++ {
			if fingerprint.Similar(hashes[i].bits, hashes[j].bits, constants.DuplicateHammingDistance) {
				warnf(jsonOutput, "Warning: %s and %s look like near-duplicates (hamming %d)\n",
					hashes[i].name, hashes[j].name,
					fingerprint.HammingDistance(hashes[i].bits, hashes[j].bits))
			}
		}
	}
}
