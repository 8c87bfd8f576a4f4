package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/face-match/internal/database"
	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const representationColumns = `id, gallery, label, source_path, face_index, embedding, bbox,
	       det_score, model, detector, dim, created_at`

// RepresentationRepository provides PostgreSQL-backed representation storage
// with an optional in-memory HNSW index for large galleries.
type RepresentationRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

var _ database.RepresentationWriter = (*RepresentationRepository)(nil)
var _ database.HNSWRebuilder = (*RepresentationRepository)(nil)

// NewRepresentationRepository creates a new PostgreSQL representation repository.
func NewRepresentationRepository(pool *Pool) *RepresentationRepository {
	return &RepresentationRepository{pool: pool}
}

// GetByGallery retrieves all representations in a gallery, ordered by id.
func (r *RepresentationRepository) GetByGallery(ctx context.Context, gallery string) ([]database.Representation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM representations
		WHERE gallery = $1
		ORDER BY id
	`, representationColumns)

	rows, err := r.pool.Query(ctx, query, gallery)
	if err != nil {
		return nil, fmt.Errorf("query representations: %w", err)
	}
	defer rows.Close()

	return scanRepresentations(rows)
}

// GetByLabel retrieves all representations for a specific person label.
// Labels are normalized on both sides (lowercase, no diacritics, dashes and
// underscores to spaces) so "jan-novak" matches "Jan Novák".
func (r *RepresentationRepository) GetByLabel(ctx context.Context, gallery, label string) ([]database.Representation, error) {
	normalized := facematch.NormalizeLabel(label)

	// PostgreSQL LOWER + unaccent + REPLACE mirrors facematch.NormalizeLabel.
	query := fmt.Sprintf(`
		SELECT %s
		FROM representations
		WHERE gallery = $1
		  AND LOWER(REPLACE(REPLACE(unaccent(label), '-', ' '), '_', ' ')) = $2
		ORDER BY id
	`, representationColumns)

	rows, err := r.pool.Query(ctx, query, gallery, normalized)
	if err != nil {
		return nil, fmt.Errorf("query representations by label: %w", err)
	}
	defer rows.Close()

	return scanRepresentations(rows)
}

// HasGallery checks whether any representations exist for the gallery.
func (r *RepresentationRepository) HasGallery(ctx context.Context, gallery string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(
		ctx, "SELECT EXISTS(SELECT 1 FROM representations WHERE gallery = $1)", gallery,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check gallery exists: %w", err)
	}
	return exists, nil
}

// ListGalleries returns summaries of all stored galleries.
// Model and detector are uniform within a gallery by construction.
func (r *RepresentationRepository) ListGalleries(ctx context.Context) ([]database.GalleryInfo, error) {
	query := `
		SELECT gallery, MAX(model), MAX(COALESCE(detector, '')),
		       COUNT(*), COUNT(DISTINCT label), MAX(created_at)
		FROM representations
		GROUP BY gallery
		ORDER BY gallery
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query galleries: %w", err)
	}
	defer rows.Close()

	var galleries []database.GalleryInfo
	for rows.Next() {
		var info database.GalleryInfo
		if err := rows.Scan(&info.Name, &info.Model, &info.Detector, &info.Faces, &info.Labels, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gallery info: %w", err)
		}
		galleries = append(galleries, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate galleries: %w", err)
	}
	return galleries, nil
}

// Count returns the number of representations in a gallery.
func (r *RepresentationRepository) Count(ctx context.Context, gallery string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM representations WHERE gallery = $1", gallery).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count representations: %w", err)
	}
	return count, nil
}

// FindSimilar finds representations closest to the query embedding by cosine
// distance. Uses the in-memory HNSW index if enabled, otherwise PostgreSQL.
func (r *RepresentationRepository) FindSimilar(
	ctx context.Context, gallery string, embedding []float32, limit int,
) ([]database.Representation, []float64, error) {
	if r.isHNSWEnabled() {
		return r.findSimilarHNSW(gallery, embedding, limit)
	}
	return r.findSimilarPostgres(ctx, gallery, embedding, limit)
}

// findSimilarHNSW uses the in-memory HNSW index for similarity search.
// The index spans all galleries, so candidates are over-fetched and
// filtered down to the requested gallery.
func (r *RepresentationRepository) findSimilarHNSW(
	gallery string, embedding []float32, limit int,
) ([]database.Representation, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	searchK := limit * database.HNSWSearchMultiplier
	if searchK < 100 {
		searchK = 100
	}

	ids, distances, err := r.hnswIndex.Search(embedding, searchK)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	results := make([]database.Representation, 0, limit)
	distancesOut := make([]float64, 0, limit)
	for i, id := range ids {
		rep := r.hnswIndex.Get(id)
		if rep == nil || rep.Gallery != gallery {
			continue
		}
		if rep.Dim != len(embedding) {
			continue
		}
		results = append(results, *rep)
		distancesOut = append(distancesOut, distances[i])
		if len(results) >= limit {
			break
		}
	}

	return results, distancesOut, nil
}

// findSimilarPostgres uses pgvector cosine distance for similarity search.
func (r *RepresentationRepository) findSimilarPostgres(
	ctx context.Context, gallery string, embedding []float32, limit int,
) ([]database.Representation, []float64, error) {
	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $2::vector AS distance
		FROM representations
		WHERE gallery = $1
		ORDER BY distance
		LIMIT $3
	`, representationColumns)

	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx, query, gallery, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar representations: %w", err)
	}
	defer rows.Close()

	var reps []database.Representation
	var distances []float64

	for rows.Next() {
		var dist float64
		rep, err := scanRepresentationRow(rows, &dist)
		if err != nil {
			return nil, nil, err
		}
		reps = append(reps, rep)
		distances = append(distances, dist)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate representations: %w", err)
	}

	return reps, distances, nil
}

// SaveBatch stores multiple representations in a single transaction.
func (r *RepresentationRepository) SaveBatch(ctx context.Context, reps []database.Representation) error {
	if len(reps) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertRepresentationsReturningIDs(ctx, tx, reps)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.updateHNSW(nil, inserted)
	return nil
}

// ReplaceGallery atomically replaces all representations of a gallery.
func (r *RepresentationRepository) ReplaceGallery(
	ctx context.Context, gallery string, reps []database.Representation,
) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	hnswEnabled := r.isHNSWEnabled()

	var oldIDs []int64
	if hnswEnabled {
		oldIDs, err = scanGalleryIDs(ctx, tx, gallery)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM representations WHERE gallery = $1", gallery); err != nil {
		return fmt.Errorf("delete existing representations: %w", err)
	}

	var inserted []database.Representation
	if len(reps) > 0 {
		// Force the gallery name so callers cannot split one batch across galleries.
		for i := range reps {
			reps[i].Gallery = gallery
		}
		inserted, err = insertRepresentationsReturningIDs(ctx, tx, reps)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if hnswEnabled {
		r.updateHNSW(oldIDs, inserted)
	}
	return nil
}

// DeleteGallery removes all representations of a gallery.
func (r *RepresentationRepository) DeleteGallery(ctx context.Context, gallery string) (int64, error) {
	hnswEnabled := r.isHNSWEnabled()

	var oldIDs []int64
	if hnswEnabled {
		tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return 0, fmt.Errorf("begin transaction: %w", err)
		}
		oldIDs, err = scanGalleryIDs(ctx, tx, gallery)
		tx.Rollback()
		if err != nil {
			return 0, err
		}
	}

	result, err := r.pool.Exec(ctx, "DELETE FROM representations WHERE gallery = $1", gallery)
	if err != nil {
		return 0, fmt.Errorf("delete gallery: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if hnswEnabled {
		r.updateHNSW(oldIDs, nil)
	}
	return deleted, nil
}

// insertRepresentationsReturningIDs inserts representations and returns them
// with their assigned database IDs.
func insertRepresentationsReturningIDs(
	ctx context.Context, tx *sql.Tx, reps []database.Representation,
) ([]database.Representation, error) {
	inserted := make([]database.Representation, 0, len(reps))

	for i := range reps {
		rep := &reps[i]
		vec := pgvector.NewVector(rep.Embedding)
		bbox := pq.Array(rep.BBox)

		var detector sql.NullString
		if rep.Detector != "" {
			detector = sql.NullString{String: rep.Detector, Valid: true}
		}

		var newID int64
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `
			INSERT INTO representations (gallery, label, source_path, face_index, embedding,
			                             bbox, det_score, model, detector, dim)
			VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9, $10)
			RETURNING id, created_at
		`,
			rep.Gallery,
			rep.Label,
			rep.SourcePath,
			rep.FaceIndex,
			vec,
			bbox,
			rep.DetScore,
			rep.Model,
			detector,
			rep.Dim,
		).Scan(&newID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("insert representation %s/%d: %w", rep.SourcePath, rep.FaceIndex, err)
		}

		newRep := *rep
		newRep.ID = newID
		newRep.CreatedAt = createdAt
		inserted = append(inserted, newRep)
	}

	return inserted, nil
}

// scanGalleryIDs collects the representation IDs of a gallery inside a transaction.
func scanGalleryIDs(ctx context.Context, tx *sql.Tx, gallery string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM representations WHERE gallery = $1", gallery)
	if err != nil {
		return nil, fmt.Errorf("query representation IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan representation ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate representation IDs: %w", err)
	}
	return ids, nil
}

// scanRepresentationRow scans a single row into a Representation, with optional
// extra scan destinations appended after the standard columns (e.g. a distance column).
func scanRepresentationRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.Representation, error) {
	var rep database.Representation
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var detector sql.NullString

	dest := make([]any, 0, 12+len(extraDest))
	dest = append(dest,
		&rep.ID,
		&rep.Gallery,
		&rep.Label,
		&rep.SourcePath,
		&rep.FaceIndex,
		&vec,
		&bbox,
		&rep.DetScore,
		&rep.Model,
		&detector,
		&rep.Dim,
		&rep.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return rep, fmt.Errorf("scan representation: %w", err)
	}

	rep.Embedding = vec.Slice()
	rep.BBox = []float64(bbox)
	if detector.Valid {
		rep.Detector = detector.String
	}

	return rep, nil
}

func scanRepresentations(rows *sql.Rows) ([]database.Representation, error) {
	var reps []database.Representation
	for rows.Next() {
		rep, err := scanRepresentationRow(rows)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate representations: %w", err)
	}
	return reps, nil
}

// GetAll retrieves all representations across galleries, ordered by id.
// Used to build the in-memory HNSW index.
func (r *RepresentationRepository) GetAll(ctx context.Context) ([]database.Representation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM representations
		ORDER BY id
	`, representationColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all representations: %w", err)
	}
	defer rows.Close()

	return scanRepresentations(rows)
}

// updateHNSW removes old representation IDs and adds new representations to
// the HNSW index. No-op when HNSW is disabled.
func (r *RepresentationRepository) updateHNSW(oldIDs []int64, newReps []database.Representation) {
	if !r.isHNSWEnabled() {
		return
	}
	r.hnswMu.Lock()
	for _, id := range oldIDs {
		r.hnswIndex.Delete(id)
	}
	for i := range newReps {
		r.hnswIndex.Add(&newReps[i])
	}
	r.hnswMu.Unlock()
}

// isHNSWEnabled checks whether the HNSW index is active.
func (r *RepresentationRepository) isHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// dbStats returns the representation count and maximum ID for staleness checks.
func (r *RepresentationRepository) dbStats(ctx context.Context) (int64, int64, error) {
	var count, maxID int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM representations").Scan(&count, &maxID)
	if err != nil {
		return 0, 0, fmt.Errorf("query representation stats: %w", err)
	}
	return count, maxID, nil
}

// EnableHNSW activates the in-memory HNSW index. A cached index is loaded
// from disk when its metadata matches the database state; otherwise the
// index is rebuilt from the representations table.
func (r *RepresentationRepository) EnableHNSW(ctx context.Context) error {
	count, maxID, err := r.dbStats(ctx)
	if err != nil {
		return err
	}

	if r.hnswIndexPath != "" && r.tryLoadIndex(count, maxID) {
		r.hnswMu.Lock()
		r.hnswEnabled = true
		r.hnswMu.Unlock()
		return nil
	}

	if err := r.RebuildHNSW(ctx); err != nil {
		return err
	}

	r.hnswMu.Lock()
	r.hnswEnabled = true
	r.hnswMu.Unlock()

	return r.SaveHNSWIndex()
}

// tryLoadIndex attempts to load a cached HNSW index from disk.
// Returns true if the index was loaded and matches the database state.
func (r *RepresentationRepository) tryLoadIndex(dbCount, dbMaxID int64) bool {
	metadata, err := database.LoadHNSWMetadata(r.hnswIndexPath)
	if err != nil {
		return false
	}
	if metadata.RepCount != dbCount || metadata.MaxRepID != dbMaxID {
		// Stale: representation table changed since the index was saved.
		return false
	}

	idx := database.NewHNSWIndex()
	if err := idx.LoadWithMetadata(r.hnswIndexPath); err != nil {
		return false
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswMu.Unlock()
	return true
}

// RebuildHNSW rebuilds the in-memory HNSW index from the representations table.
func (r *RepresentationRepository) RebuildHNSW(ctx context.Context) error {
	reps, err := r.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load representations for HNSW rebuild: %w", err)
	}

	idx := database.NewHNSWIndex()
	if err := idx.BuildFromRepresentations(reps); err != nil {
		return fmt.Errorf("build HNSW index: %w", err)
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswMu.Unlock()
	return nil
}

// HNSWCount returns the number of items in the HNSW index.
func (r *RepresentationRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// IsHNSWEnabled returns whether HNSW is enabled.
func (r *RepresentationRepository) IsHNSWEnabled() bool {
	return r.isHNSWEnabled()
}

// SaveHNSWIndex saves the current index to disk (if a path is configured).
func (r *RepresentationRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	path := r.hnswIndexPath
	r.hnswMu.RUnlock()

	if idx == nil || path == "" {
		return nil
	}

	count, maxID, err := r.dbStats(context.Background())
	if err != nil {
		return err
	}

	metadata := database.HNSWIndexMetadata{
		RepCount:  count,
		MaxRepID:  maxID,
		BuildTime: time.Now(),
	}
	return idx.SaveWithMetadata(path, metadata)
}
