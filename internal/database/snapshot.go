package database

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const currentSnapshotVersion = 1

// SnapshotEntry caches the extraction result for one face of one gallery image.
type SnapshotEntry struct {
	Label      string
	SourcePath string
	FileSize   int64
	ModTime    time.Time
	FaceIndex  int
	Embedding  []float32
	BBox       []float64
	DetScore   float64
}

// Snapshot caches face extraction results for a gallery directory so repeated
// runs skip the extraction service for unchanged images. Entries are keyed by
// source path and validated against file size and modification time.
type Snapshot struct {
	Version   int
	Model     string
	Detector  string
	CreatedAt time.Time
	Entries   map[string][]SnapshotEntry // keyed by source path

	mu    sync.Mutex
	dirty bool
}

// NewSnapshot creates an empty snapshot for the given model and detector.
func NewSnapshot(model, detector string) *Snapshot {
	return &Snapshot{
		Version:   currentSnapshotVersion,
		Model:     model,
		Detector:  detector,
		CreatedAt: time.Now(),
		Entries:   make(map[string][]SnapshotEntry),
	}
}

// snapshotData is the gob-encoded on-disk form of a Snapshot.
type snapshotData struct {
	Version   int
	Model     string
	Detector  string
	CreatedAt time.Time
	Entries   map[string][]SnapshotEntry
}

// LoadSnapshot loads a snapshot from disk. A missing file, an unreadable file
// or a snapshot built with a different model or detector yields a fresh empty
// snapshot, never an error: the cache is advisory.
func LoadSnapshot(path, model, detector string) *Snapshot {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided cache location
	if err != nil {
		return NewSnapshot(model, detector)
	}

	var sd snapshotData
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&sd); err != nil {
		return NewSnapshot(model, detector)
	}

	if sd.Version != currentSnapshotVersion || sd.Model != model || sd.Detector != detector {
		// Model or detector changed: cached embeddings are incompatible.
		return NewSnapshot(model, detector)
	}

	if sd.Entries == nil {
		sd.Entries = make(map[string][]SnapshotEntry)
	}

	return &Snapshot{
		Version:   sd.Version,
		Model:     sd.Model,
		Detector:  sd.Detector,
		CreatedAt: sd.CreatedAt,
		Entries:   sd.Entries,
	}
}

// Lookup returns cached entries for a source path if the file is unchanged.
// Returns nil and false if the path is not cached or the file was modified.
func (s *Snapshot) Lookup(path string, size int64, modTime time.Time) ([]SnapshotEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.Entries[path]
	if !ok || len(entries) == 0 {
		return nil, false
	}
	if entries[0].FileSize != size || !entries[0].ModTime.Equal(modTime) {
		return nil, false
	}
	return entries, true
}

// Put stores extraction results for a source path, replacing any cached entries.
func (s *Snapshot) Put(path string, entries []SnapshotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Entries[path] = entries
	s.dirty = true
}

// Len returns the number of cached source paths.
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Entries)
}

// Save writes the snapshot to disk if it was modified since loading.
// The file is written atomically via a temp file rename.
func (s *Snapshot) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	sd := snapshotData{
		Version:   s.Version,
		Model:     s.Model,
		Detector:  s.Detector,
		CreatedAt: s.CreatedAt,
		Entries:   s.Entries,
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(&sd); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	s.dirty = false
	return nil
}
