// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face extraction constants
const (
	// IoUThreshold is the minimum Intersection over Union at which two
	// detected face boxes are treated as duplicates of the same face
	IoUThreshold = 0.1

	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920
)

// Gallery processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for gallery extraction
	WorkerPoolSize = 8

	// SnapshotSaveInterval is the number of images processed before saving the snapshot file
	SnapshotSaveInterval = 50
)

// Similarity search constants
const (
	// DefaultSearchLimit is the default limit for similarity search results per query
	DefaultSearchLimit = 100

	// DuplicateHammingDistance is the maximum perceptual hash Hamming distance
	// at which two gallery images are flagged as near-duplicates
	DuplicateHammingDistance = 4
)
