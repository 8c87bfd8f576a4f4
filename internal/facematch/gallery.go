package facematch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EmbedFunc turns an image file into an embedding vector. It is the seam to
// the external extractor; gallery building calls it once per discovered
// image and never inspects pixels itself.
type EmbedFunc func(ctx context.Context, path string) ([]float32, error)

// Entry is one gallery element: an identity label with one reference
// embedding. Labels repeat when an identity has several reference photos.
type Entry struct {
	Label  string
	Vector []float32
	Source string
}

// BuildWarning records a reference image skipped during a gallery build,
// typically because no face was detected in it.
type BuildWarning struct {
	Path string
	Err  error
}

// Gallery holds the reference embeddings for a set of known identities,
// built once per invocation from a directory snapshot. After the build it is
// read-only; concurrent readers are safe. Rebuilding is always a full
// rescan.
type Gallery struct {
	model    string
	dim      int
	entries  []Entry
	warnings []BuildWarning
}

// imageExtensions matches the formats the extractor accepts.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// BuildGallery scans a directory of reference images and embeds each one.
// The scan order is the sorted directory listing and the identity label is
// the file name without its extension. Files that fail extraction are
// skipped and recorded as warnings on the gallery rather than aborting the
// build. A directory yielding zero usable entries fails with
// ErrEmptyGallery; in that case the returned gallery is still non-nil so
// callers can surface the collected warnings.
func BuildGallery(ctx context.Context, dir, model string, embed EmbedFunc) (*Gallery, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read gallery directory: %w", err)
	}

	g := &Gallery{model: model}
	for _, de := range dirEntries {
		if de.IsDir() || !IsImageFile(de.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gallery build cancelled: %w", err)
		}
		path := filepath.Join(dir, de.Name())
		vec, err := embed(ctx, path)
		if err != nil {
			g.warnings = append(g.warnings, BuildWarning{Path: path, Err: err})
			continue
		}
		if err := g.add(Entry{Label: LabelFromFilename(de.Name()), Vector: vec, Source: path}); err != nil {
			return nil, err
		}
	}

	if len(g.entries) == 0 {
		return g, fmt.Errorf("%w: %s", ErrEmptyGallery, dir)
	}
	return g, nil
}

// NewGallery builds a gallery from pre-extracted entries, e.g. loaded from a
// representation cache. Validation matches BuildGallery.
func NewGallery(model string, entries []Entry) (*Gallery, error) {
	g := &Gallery{model: model}
	for _, e := range entries {
		if err := g.add(e); err != nil {
			return nil, err
		}
	}
	if len(g.entries) == 0 {
		return nil, ErrEmptyGallery
	}
	return g, nil
}

// add appends an entry, pinning the gallery dimension to the first vector.
// Dimension drift between entries means the extractor was reconfigured
// mid-build and is a hard error, not a skip.
func (g *Gallery) add(e Entry) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("entry %q: empty embedding", e.Label)
	}
	if g.dim == 0 {
		g.dim = len(e.Vector)
	} else if len(e.Vector) != g.dim {
		return &DimensionMismatchError{A: g.dim, B: len(e.Vector)}
	}
	g.entries = append(g.entries, e)
	return nil
}

// LabelFromFilename derives the identity label from a reference image file
// name: the base name without its extension.
func LabelFromFilename(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsImageFile reports whether the file name has an extension the extractor
// accepts.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Entries returns the gallery entries in insertion (scan) order. The
// returned slice is owned by the gallery and must not be mutated.
func (g *Gallery) Entries() []Entry {
	return g.entries
}

// Len returns the number of entries (reference embeddings, not identities).
func (g *Gallery) Len() int {
	return len(g.entries)
}

// LabelCount returns the number of distinct identity labels.
func (g *Gallery) LabelCount() int {
	seen := make(map[string]struct{}, len(g.entries))
	for _, e := range g.entries {
		seen[e.Label] = struct{}{}
	}
	return len(seen)
}

// Model returns the embedding model the gallery was built for.
func (g *Gallery) Model() string {
	return g.model
}

// Dim returns the embedding dimensionality shared by all entries.
func (g *Gallery) Dim() int {
	return g.dim
}

// Warnings returns the per-file skip records from the build.
func (g *Gallery) Warnings() []BuildWarning {
	return g.warnings
}
