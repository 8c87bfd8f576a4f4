package facematch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeEmbedder returns canned vectors keyed by file base name and records
// the order of calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   []string
}

func (f *fakeEmbedder) embed(_ context.Context, path string) ([]float32, error) {
	name := filepath.Base(path)
	f.calls = append(f.calls, name)
	vec, ok := f.vectors[name]
	if !ok {
		return nil, fmt.Errorf("no face detected in %s", name)
	}
	return vec, nil
}

func writeGalleryFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestBuildGallery(t *testing.T) {
	dir := writeGalleryFiles(t, "bob.jpg", "alice.jpg", "carol.png", "notes.txt")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fe := &fakeEmbedder{vectors: map[string][]float32{
		"alice.jpg": {1, 0, 0},
		"bob.jpg":   {0, 1, 0},
		"carol.png": {0, 0, 1},
	}}

	g, err := BuildGallery(context.Background(), dir, "Facenet", fe.embed)
	if err != nil {
		t.Fatalf("BuildGallery() unexpected error: %v", err)
	}

	// Scan order is the sorted directory listing; text files and
	// subdirectories are ignored.
	wantCalls := []string{"alice.jpg", "bob.jpg", "carol.png"}
	if len(fe.calls) != len(wantCalls) {
		t.Fatalf("embed called %d times, want %d (%v)", len(fe.calls), len(wantCalls), fe.calls)
	}
	for i, name := range wantCalls {
		if fe.calls[i] != name {
			t.Errorf("embed call %d = %s, want %s", i, fe.calls[i], name)
		}
	}

	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}
	if g.Model() != "Facenet" {
		t.Errorf("Model() = %q, want Facenet", g.Model())
	}
	if g.Dim() != 3 {
		t.Errorf("Dim() = %d, want 3", g.Dim())
	}
	if len(g.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want none", g.Warnings())
	}

	entries := g.Entries()
	wantLabels := []string{"alice", "bob", "carol"}
	for i, want := range wantLabels {
		if entries[i].Label != want {
			t.Errorf("entry %d label = %q, want %q", i, entries[i].Label, want)
		}
	}
	if entries[0].Source != filepath.Join(dir, "alice.jpg") {
		t.Errorf("entry source = %q, want path under gallery dir", entries[0].Source)
	}
}

func TestBuildGallerySkipsFailedExtractions(t *testing.T) {
	dir := writeGalleryFiles(t, "alice.jpg", "blurry.jpg", "carol.jpg")

	fe := &fakeEmbedder{vectors: map[string][]float32{
		"alice.jpg": {1, 0},
		"carol.jpg": {0, 1},
		// blurry.jpg missing: the embedder fails on it.
	}}

	g, err := BuildGallery(context.Background(), dir, "Facenet", fe.embed)
	if err != nil {
		t.Fatalf("BuildGallery() unexpected error: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}

	warnings := g.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("Warnings() = %d entries, want 1", len(warnings))
	}
	if filepath.Base(warnings[0].Path) != "blurry.jpg" {
		t.Errorf("warning path = %q, want blurry.jpg", warnings[0].Path)
	}
	if warnings[0].Err == nil {
		t.Error("warning must carry the extraction error")
	}

	// The failed file must not appear as an entry.
	for _, e := range g.Entries() {
		if e.Label == "blurry" {
			t.Error("failed extraction leaked into gallery entries")
		}
	}
}

func TestBuildGalleryEmpty(t *testing.T) {
	t.Run("no images at all", func(t *testing.T) {
		dir := writeGalleryFiles(t, "readme.md")
		_, err := BuildGallery(context.Background(), dir, "Facenet", (&fakeEmbedder{}).embed)
		if !errors.Is(err, ErrEmptyGallery) {
			t.Errorf("BuildGallery() error = %v, want ErrEmptyGallery", err)
		}
	})

	t.Run("all extractions fail", func(t *testing.T) {
		dir := writeGalleryFiles(t, "a.jpg", "b.jpg")
		fe := &fakeEmbedder{} // empty vector map: every embed fails
		g, err := BuildGallery(context.Background(), dir, "Facenet", fe.embed)
		if !errors.Is(err, ErrEmptyGallery) {
			t.Fatalf("BuildGallery() error = %v, want ErrEmptyGallery", err)
		}
		// Warnings survive so the caller can explain why nothing was usable.
		if g == nil || len(g.Warnings()) != 2 {
			t.Errorf("expected 2 warnings on the returned gallery, got %+v", g)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := BuildGallery(context.Background(), "/nonexistent/gallery", "Facenet", (&fakeEmbedder{}).embed)
		if err == nil {
			t.Error("BuildGallery() expected error for missing directory")
		}
	})
}

func TestBuildGalleryDimensionDrift(t *testing.T) {
	dir := writeGalleryFiles(t, "alice.jpg", "bob.jpg")

	fe := &fakeEmbedder{vectors: map[string][]float32{
		"alice.jpg": make([]float32, 128),
		"bob.jpg":   make([]float32, 512),
	}}
	fe.vectors["alice.jpg"][0] = 1
	fe.vectors["bob.jpg"][0] = 1

	_, err := BuildGallery(context.Background(), dir, "Facenet", fe.embed)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("BuildGallery() error = %v, want DimensionMismatchError", err)
	}
	if dimErr.A != 128 || dimErr.B != 512 {
		t.Errorf("DimensionMismatchError = %d vs %d, want 128 vs 512", dimErr.A, dimErr.B)
	}
}

func TestBuildGalleryDuplicateLabels(t *testing.T) {
	// Two files for the same person are two entries under one label.
	dir := writeGalleryFiles(t, "alice.jpg", "alice.png")

	fe := &fakeEmbedder{vectors: map[string][]float32{
		"alice.jpg": {1, 0},
		"alice.png": {0, 1},
	}}

	g, err := BuildGallery(context.Background(), dir, "Facenet", fe.embed)
	if err != nil {
		t.Fatalf("BuildGallery() unexpected error: %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	if g.LabelCount() != 1 {
		t.Errorf("LabelCount() = %d, want 1", g.LabelCount())
	}
}

func TestBuildGalleryCancelled(t *testing.T) {
	dir := writeGalleryFiles(t, "alice.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildGallery(ctx, dir, "Facenet", (&fakeEmbedder{}).embed)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("BuildGallery() error = %v, want context.Canceled", err)
	}
}

func TestNewGallery(t *testing.T) {
	entries := []Entry{
		{Label: "alice", Vector: []float32{1, 0}},
		{Label: "bob", Vector: []float32{0, 1}},
	}

	g, err := NewGallery("ArcFace", entries)
	if err != nil {
		t.Fatalf("NewGallery() unexpected error: %v", err)
	}
	if g.Len() != 2 || g.Dim() != 2 || g.Model() != "ArcFace" {
		t.Errorf("NewGallery() = len %d dim %d model %q", g.Len(), g.Dim(), g.Model())
	}

	t.Run("empty", func(t *testing.T) {
		if _, err := NewGallery("ArcFace", nil); !errors.Is(err, ErrEmptyGallery) {
			t.Errorf("NewGallery(nil) error = %v, want ErrEmptyGallery", err)
		}
	})

	t.Run("dimension drift", func(t *testing.T) {
		_, err := NewGallery("ArcFace", []Entry{
			{Label: "a", Vector: []float32{1, 0}},
			{Label: "b", Vector: []float32{1, 0, 0}},
		})
		var dimErr *DimensionMismatchError
		if !errors.As(err, &dimErr) {
			t.Errorf("NewGallery() error = %v, want DimensionMismatchError", err)
		}
	})

	t.Run("empty vector", func(t *testing.T) {
		if _, err := NewGallery("ArcFace", []Entry{{Label: "a"}}); err == nil {
			t.Error("NewGallery() expected error for empty embedding")
		}
	})
}

func TestLabelFromFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice.jpg", "alice"},
		{"Jan_Novak.png", "Jan_Novak"},
		{"photo.2024.jpeg", "photo.2024"},
		{"/gallery/team/bob.webp", "bob"},
		{"noext", "noext"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LabelFromFilename(tt.input); got != tt.expected {
				t.Errorf("LabelFromFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
