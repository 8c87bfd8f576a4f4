package database

import (
	"context"
	"fmt"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	postgresRepReader   func() RepresentationReader
	postgresRepWriter   func() RepresentationWriter
	postgresHNSW        HNSWRebuilder // Singleton for HNSW rebuilding
	postgresInitialized bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	reader func() RepresentationReader,
	writer func() RepresentationWriter,
) {
	postgresRepReader = reader
	postgresRepWriter = writer
	postgresInitialized = true
}

// RegisterHNSWRebuilder registers the HNSW rebuilder for the representation repository.
// This allows rebuilding the in-memory HNSW index without knowing the concrete type.
func RegisterHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresHNSW = rebuilder
}

// GetHNSWRebuilder returns the registered HNSW rebuilder, or nil if not registered.
func GetHNSWRebuilder() HNSWRebuilder {
	return postgresHNSW
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetRepresentationReader returns a RepresentationReader from the PostgreSQL backend
func GetRepresentationReader(ctx context.Context) (RepresentationReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresRepReader == nil {
		return nil, fmt.Errorf("PostgreSQL representation reader not registered")
	}
	return postgresRepReader(), nil
}

// GetRepresentationWriter returns a RepresentationWriter from the PostgreSQL backend
func GetRepresentationWriter(ctx context.Context) (RepresentationWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresRepWriter == nil {
		return nil, fmt.Errorf("PostgreSQL representation writer not registered")
	}
	return postgresRepWriter(), nil
}
