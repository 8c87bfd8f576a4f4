package database

import (
	"context"
)

// RepresentationReader provides read-only access to stored face representations.
type RepresentationReader interface {
	// GetByGallery retrieves all representations in a gallery, ordered by id
	GetByGallery(ctx context.Context, gallery string) ([]Representation, error)
	// GetByLabel retrieves all representations for a specific person label.
	// Labels are normalized before comparison (lowercase, no diacritics,
	// dashes and underscores to spaces) so "jan-novak" matches "Jan Novák".
	GetByLabel(ctx context.Context, gallery, label string) ([]Representation, error)
	// HasGallery checks whether any representations exist for the gallery
	HasGallery(ctx context.Context, gallery string) (bool, error)
	// ListGalleries returns summaries of all stored galleries
	ListGalleries(ctx context.Context) ([]GalleryInfo, error)
	// Count returns the number of representations in a gallery
	Count(ctx context.Context, gallery string) (int, error)
	// FindSimilar finds representations closest to the query embedding by
	// cosine distance, ascending. Returns matches and their distances.
	FindSimilar(ctx context.Context, gallery string, embedding []float32, limit int) ([]Representation, []float64, error)
}

// RepresentationWriter provides write access to stored face representations.
type RepresentationWriter interface {
	RepresentationReader

	// SaveBatch stores multiple representations in a single transaction
	SaveBatch(ctx context.Context, reps []Representation) error

	// ReplaceGallery atomically replaces all representations of a gallery
	ReplaceGallery(ctx context.Context, gallery string, reps []Representation) error

	// DeleteGallery removes all representations of a gallery.
	// Returns the number of deleted rows.
	DeleteGallery(ctx context.Context, gallery string) (int64, error)
}
