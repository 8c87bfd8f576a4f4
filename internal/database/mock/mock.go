// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/facematch"
)

// MockRepresentationStore is an in-memory implementation of
// database.RepresentationWriter for tests.
type MockRepresentationStore struct {
	mu     sync.RWMutex
	reps   map[string][]database.Representation // keyed by gallery
	nextID int64

	// Error injection
	GetError         error
	HasError         error
	ListError        error
	CountError       error
	FindSimilarError error
	SaveError        error
	ReplaceError     error
	DeleteError      error

	// Call tracking
	SaveCalls    int
	ReplaceCalls int
	DeleteCalls  int
}

var _ database.RepresentationWriter = (*MockRepresentationStore)(nil)

// NewMockRepresentationStore creates a new empty mock store.
func NewMockRepresentationStore() *MockRepresentationStore {
	return &MockRepresentationStore{
		reps: make(map[string][]database.Representation),
	}
}

// AddRepresentations seeds the store with representations, assigning IDs.
func (m *MockRepresentationStore) AddRepresentations(gallery string, reps []database.Representation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range reps {
		m.nextID++
		reps[i].ID = m.nextID
		reps[i].Gallery = gallery
		if reps[i].CreatedAt.IsZero() {
			reps[i].CreatedAt = time.Now()
		}
	}
	m.reps[gallery] = append(m.reps[gallery], reps...)
}

// GetByGallery retrieves all representations in a gallery.
func (m *MockRepresentationStore) GetByGallery(ctx context.Context, gallery string) ([]database.Representation, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.Representation(nil), m.reps[gallery]...), nil
}

// GetByLabel retrieves all representations with a matching normalized label.
func (m *MockRepresentationStore) GetByLabel(ctx context.Context, gallery, label string) ([]database.Representation, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := facematch.NormalizeLabel(label)
	var matches []database.Representation
	for _, rep := range m.reps[gallery] {
		if facematch.NormalizeLabel(rep.Label) == want {
			matches = append(matches, rep)
		}
	}
	return matches, nil
}

// HasGallery checks whether the gallery contains any representations.
func (m *MockRepresentationStore) HasGallery(ctx context.Context, gallery string) (bool, error) {
	if m.HasError != nil {
		return false, m.HasError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reps[gallery]) > 0, nil
}

// ListGalleries returns summaries of all stored galleries, sorted by name.
func (m *MockRepresentationStore) ListGalleries(ctx context.Context) ([]database.GalleryInfo, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var galleries []database.GalleryInfo
	for name, reps := range m.reps {
		if len(reps) == 0 {
			continue
		}
		labels := make(map[string]struct{})
		var updatedAt time.Time
		for _, rep := range reps {
			labels[rep.Label] = struct{}{}
			if rep.CreatedAt.After(updatedAt) {
				updatedAt = rep.CreatedAt
			}
		}
		galleries = append(galleries, database.GalleryInfo{
			Name:      name,
			Model:     reps[0].Model,
			Detector:  reps[0].Detector,
			Faces:     len(reps),
			Labels:    len(labels),
			UpdatedAt: updatedAt,
		})
	}

	sort.Slice(galleries, func(i, j int) bool { return galleries[i].Name < galleries[j].Name })
	return galleries, nil
}

// Count returns the number of representations in a gallery.
func (m *MockRepresentationStore) Count(ctx context.Context, gallery string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reps[gallery]), nil
}

// FindSimilar returns the representations closest to the query embedding by
// cosine distance, ascending.
func (m *MockRepresentationStore) FindSimilar(
	ctx context.Context, gallery string, embedding []float32, limit int,
) ([]database.Representation, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		rep  database.Representation
		dist float64
	}

	var candidates []scored
	for _, rep := range m.reps[gallery] {
		candidates = append(candidates, scored{rep, database.CosineDistance(embedding, rep.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]database.Representation, 0, len(candidates))
	distances := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, c.rep)
		distances = append(distances, c.dist)
	}
	return results, distances, nil
}

// SaveBatch stores representations, assigning IDs.
func (m *MockRepresentationStore) SaveBatch(ctx context.Context, reps []database.Representation) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	for i := range reps {
		m.nextID++
		reps[i].ID = m.nextID
		if reps[i].CreatedAt.IsZero() {
			reps[i].CreatedAt = time.Now()
		}
		m.reps[reps[i].Gallery] = append(m.reps[reps[i].Gallery], reps[i])
	}
	return nil
}

// ReplaceGallery atomically replaces all representations of a gallery.
func (m *MockRepresentationStore) ReplaceGallery(
	ctx context.Context, gallery string, reps []database.Representation,
) error {
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReplaceCalls++
	delete(m.reps, gallery)
	for i := range reps {
		m.nextID++
		reps[i].ID = m.nextID
		reps[i].Gallery = gallery
		if reps[i].CreatedAt.IsZero() {
			reps[i].CreatedAt = time.Now()
		}
		m.reps[gallery] = append(m.reps[gallery], reps[i])
	}
	return nil
}

// DeleteGallery removes all representations of a gallery.
func (m *MockRepresentationStore) DeleteGallery(ctx context.Context, gallery string) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls++
	deleted := int64(len(m.reps[gallery]))
	delete(m.reps, gallery)
	return deleted, nil
}
