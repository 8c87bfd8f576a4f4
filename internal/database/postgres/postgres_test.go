//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/face-match/internal/config"
	"github.com/kozaktomas/face-match/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// axisEmbedding returns a 128-dim unit vector rotated in the plane of the
// first two axes. Angle 0 points along the first axis.
func axisEmbedding(x, y float32) []float32 {
	emb := make([]float32, 128)
	emb[0] = x
	emb[1] = y
	return emb
}

func testReps(gallery string) []database.Representation {
	return []database.Representation{
		{
			Gallery:    gallery,
			Label:      "alice",
			SourcePath: "/gallery/alice.jpg",
			FaceIndex:  0,
			Embedding:  axisEmbedding(1, 0),
			BBox:       []float64{10, 20, 100, 150},
			DetScore:   0.97,
			Model:      "Facenet",
			Detector:   "opencv",
			Dim:        128,
		},
		{
			Gallery:    gallery,
			Label:      "bob",
			SourcePath: "/gallery/bob.jpg",
			FaceIndex:  0,
			Embedding:  axisEmbedding(0.7071, 0.7071),
			BBox:       []float64{5, 5, 90, 120},
			DetScore:   0.91,
			Model:      "Facenet",
			Detector:   "opencv",
			Dim:        128,
		},
		{
			Gallery:    gallery,
			Label:      "carol",
			SourcePath: "/gallery/carol.jpg",
			FaceIndex:  0,
			Embedding:  axisEmbedding(0, 1),
			BBox:       []float64{0, 0, 80, 100},
			DetScore:   0.88,
			Model:      "Facenet",
			Detector:   "opencv",
			Dim:        128,
		},
	}
}

func TestRepresentationRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepresentationRepository(pool)

	t.Run("SaveBatchAndGet", func(t *testing.T) {
		if err := repo.SaveBatch(ctx, testReps("team")); err != nil {
			t.Fatalf("Failed to save batch: %v", err)
		}

		got, err := repo.GetByGallery(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to get representations: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("Expected 3 representations, got %d", len(got))
		}
		if got[0].Label != "alice" {
			t.Errorf("Expected label 'alice', got '%s'", got[0].Label)
		}
		if got[0].Model != "Facenet" {
			t.Errorf("Expected model 'Facenet', got '%s'", got[0].Model)
		}
		if got[0].Detector != "opencv" {
			t.Errorf("Expected detector 'opencv', got '%s'", got[0].Detector)
		}
		if len(got[0].Embedding) != 128 {
			t.Errorf("Expected 128 dimensions, got %d", len(got[0].Embedding))
		}
		if len(got[0].BBox) != 4 {
			t.Errorf("Expected 4 bbox values, got %d", len(got[0].BBox))
		}
		if got[0].ID == 0 {
			t.Error("Expected assigned ID")
		}
	})

	t.Run("HasGallery", func(t *testing.T) {
		has, err := repo.HasGallery(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to check gallery: %v", err)
		}
		if !has {
			t.Error("Expected true, got false")
		}

		has, err = repo.HasGallery(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Failed to check gallery: %v", err)
		}
		if has {
			t.Error("Expected false, got true")
		}
	})

	t.Run("Count", func(t *testing.T) {
		count, err := repo.Count(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected 3, got %d", count)
		}
	})

	t.Run("GetByLabel", func(t *testing.T) {
		reps, err := repo.GetByLabel(ctx, "team", "alice")
		if err != nil {
			t.Fatalf("Failed to get by label: %v", err)
		}
		if len(reps) != 1 {
			t.Fatalf("Expected 1 representation, got %d", len(reps))
		}
		if reps[0].Label != "alice" {
			t.Errorf("Expected label 'alice', got '%s'", reps[0].Label)
		}

		// Normalized lookup: case and separator insensitive.
		reps, err = repo.GetByLabel(ctx, "team", "ALICE")
		if err != nil {
			t.Fatalf("Failed to get by normalized label: %v", err)
		}
		if len(reps) != 1 {
			t.Errorf("Expected normalized match, got %d results", len(reps))
		}
	})

	t.Run("ListGalleries", func(t *testing.T) {
		galleries, err := repo.ListGalleries(ctx)
		if err != nil {
			t.Fatalf("Failed to list galleries: %v", err)
		}
		if len(galleries) != 1 {
			t.Fatalf("Expected 1 gallery, got %d", len(galleries))
		}
		if galleries[0].Name != "team" {
			t.Errorf("Expected gallery 'team', got '%s'", galleries[0].Name)
		}
		if galleries[0].Faces != 3 {
			t.Errorf("Expected 3 faces, got %d", galleries[0].Faces)
		}
		if galleries[0].Labels != 3 {
			t.Errorf("Expected 3 labels, got %d", galleries[0].Labels)
		}
		if galleries[0].Model != "Facenet" {
			t.Errorf("Expected model 'Facenet', got '%s'", galleries[0].Model)
		}
	})

	t.Run("FindSimilar", func(t *testing.T) {
		results, distances, err := repo.FindSimilar(ctx, "team", axisEmbedding(1, 0), 2)
		if err != nil {
			t.Fatalf("Failed to find similar: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if len(results) != len(distances) {
			t.Fatalf("Results and distances length mismatch: %d vs %d", len(results), len(distances))
		}
		// Closest match is the identical vector.
		if results[0].Label != "alice" {
			t.Errorf("Expected closest label 'alice', got '%s'", results[0].Label)
		}
		if distances[0] > 0.0001 {
			t.Errorf("Expected zero distance for identical vector, got %f", distances[0])
		}
		// Distances ascending.
		for i := 1; i < len(distances); i++ {
			if distances[i] < distances[i-1] {
				t.Error("Distances not sorted")
			}
		}
	})

	t.Run("ReplaceGallery", func(t *testing.T) {
		replacement := []database.Representation{
			{
				Gallery:    "team",
				Label:      "dave",
				SourcePath: "/gallery/dave.jpg",
				Embedding:  axisEmbedding(-1, 0),
				Model:      "Facenet",
				Detector:   "opencv",
				Dim:        128,
			},
		}

		if err := repo.ReplaceGallery(ctx, "team", replacement); err != nil {
			t.Fatalf("Failed to replace gallery: %v", err)
		}

		got, err := repo.GetByGallery(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to get representations: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Expected 1 representation after replace, got %d", len(got))
		}
		if got[0].Label != "dave" {
			t.Errorf("Expected label 'dave', got '%s'", got[0].Label)
		}
	})

	t.Run("DeleteGallery", func(t *testing.T) {
		deleted, err := repo.DeleteGallery(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to delete gallery: %v", err)
		}
		if deleted != 1 {
			t.Errorf("Expected 1 deleted row, got %d", deleted)
		}

		has, err := repo.HasGallery(ctx, "team")
		if err != nil {
			t.Fatalf("Failed to check gallery: %v", err)
		}
		if has {
			t.Error("Gallery still exists after delete")
		}
	})
}

func TestRepresentationRepositoryHNSW(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepresentationRepository(pool)

	if err := repo.SaveBatch(ctx, testReps("crew")); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}

	if err := repo.EnableHNSW(ctx); err != nil {
		t.Fatalf("Failed to enable HNSW: %v", err)
	}

	if !repo.IsHNSWEnabled() {
		t.Fatal("Expected HNSW to be enabled")
	}
	if repo.HNSWCount() != 3 {
		t.Errorf("Expected 3 indexed representations, got %d", repo.HNSWCount())
	}

	results, distances, err := repo.FindSimilar(ctx, "crew", axisEmbedding(1, 0), 2)
	if err != nil {
		t.Fatalf("HNSW FindSimilar failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Label != "alice" {
		t.Errorf("Expected closest label 'alice', got '%s'", results[0].Label)
	}
	if distances[0] > 0.0001 {
		t.Errorf("Expected zero distance, got %f", distances[0])
	}

	// New saves must reach the index.
	extra := []database.Representation{
		{
			Gallery:    "crew",
			Label:      "eve",
			SourcePath: "/gallery/eve.jpg",
			Embedding:  axisEmbedding(0.9, 0.1),
			Model:      "Facenet",
			Detector:   "opencv",
			Dim:        128,
		},
	}
	if err := repo.SaveBatch(ctx, extra); err != nil {
		t.Fatalf("Failed to save extra representation: %v", err)
	}
	if repo.HNSWCount() != 4 {
		t.Errorf("Expected 4 indexed representations after save, got %d", repo.HNSWCount())
	}

	// Deleting the gallery must empty the index.
	if _, err := repo.DeleteGallery(ctx, "crew"); err != nil {
		t.Fatalf("Failed to delete gallery: %v", err)
	}
	if repo.HNSWCount() != 0 {
		t.Errorf("Expected empty index after gallery delete, got %d", repo.HNSWCount())
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Check migrations were applied
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"001_create_representations.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}
}
