package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite).
// Used for exact re-ranking of approximate HNSW results.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	RepCount  int64     `json:"rep_count"`
	MaxRepID  int64     `json:"max_rep_id"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for face representation search.
type HNSWIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64] // For persistence
	idToRep    map[int64]*Representation
	mu         sync.RWMutex
	path       string // Path to save/load index
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToRep: make(map[int64]*Representation),
	}
}

// BuildFromRepresentations builds the index from a slice of representations.
func (h *HNSWIndex) BuildFromRepresentations(reps []Representation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(reps) == 0 {
		h.graph = nil
		h.savedGraph = nil
		h.idToRep = make(map[int64]*Representation)
		return nil
	}

	// Create new graph with cosine distance.
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	h.idToRep = make(map[int64]*Representation, len(reps))

	for i := range reps {
		rep := &reps[i]
		if len(rep.Embedding) == 0 {
			continue
		}

		g.Add(hnsw.MakeNode(rep.ID, rep.Embedding))
		h.idToRep[rep.ID] = rep
	}

	h.graph = g
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns representation IDs and their exact cosine distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	var neighbors []hnsw.Node[int64]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, k)
	} else {
		neighbors = h.graph.Search(query, k)
	}

	ids := make([]int64, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))

	for _, n := range neighbors {
		// Skip nodes whose representation was deleted from the map.
		if _, ok := h.idToRep[n.Key]; !ok {
			continue
		}
		ids = append(ids, n.Key)
		// Compute exact cosine distance from the node embedding directly.
		distances = append(distances, CosineDistance(query, n.Value))
	}

	return ids, distances, nil
}

// SearchWithDistance finds the k nearest neighbors with distance filtering.
// Returns representation IDs and distances below maxDistance.
func (h *HNSWIndex) SearchWithDistance(query []float32, k int, maxDistance float64) ([]int64, []float64, error) {
	// Search with more candidates for better recall after filtering.
	searchK := k * HNSWSearchMultiplier
	if searchK < 100 {
		searchK = 100
	}

	allIDs, allDistances, err := h.Search(query, searchK)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, 0, k)
	distances := make([]float64, 0, k)
	for i, id := range allIDs {
		if allDistances[i] >= maxDistance {
			continue
		}
		ids = append(ids, id)
		distances = append(distances, allDistances[i])
		if len(ids) >= k {
			break
		}
	}

	return ids, distances, nil
}

// Get returns the representation for a given ID, or nil if not indexed.
func (h *HNSWIndex) Get(id int64) *Representation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToRep[id]
}

// Add adds a single representation to the index.
func (h *HNSWIndex) Add(rep *Representation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(rep.Embedding) == 0 {
		return
	}

	if h.graph == nil {
		h.graph = hnsw.NewGraph[int64]()
		h.graph.M = HNSWMaxNeighbors
		h.graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
		h.graph.Distance = hnsw.CosineDistance
	}

	h.graph.Add(hnsw.MakeNode(rep.ID, rep.Embedding))
	h.idToRep[rep.ID] = rep
}

// Delete removes a representation from the index.
// The HNSW graph does not support true deletion; removing the entry from
// idToRep hides it from search results since Search filters by lookup.
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.idToRep, id)
}

// Count returns the number of indexed representations.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToRep)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// SaveWithMetadata persists the index, its metadata and the representation
// records to disk. The graph goes to path, metadata to path.meta and
// representations to path.reps.
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".reps")
		return nil
	}

	if err := h.exportGraph(path); err != nil {
		return err
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	reps := make([]Representation, 0, len(h.idToRep))
	for _, rep := range h.idToRep {
		reps = append(reps, *rep)
	}
	if err := saveRepresentationRecords(path, reps); err != nil {
		return err
	}

	return nil
}

// exportGraph exports the HNSW graph to the given file path.
func (h *HNSWIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if h.savedGraph != nil {
		if err := h.savedGraph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph: %w", err)
		}
	} else {
		if err := h.graph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}
	return nil
}

// LoadWithMetadata loads the HNSW graph and representation records from disk.
func (h *HNSWIndex) LoadWithMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	reps, err := loadRepresentationRecords(path)
	if err != nil {
		return err
	}

	h.savedGraph = saved
	h.idToRep = make(map[int64]*Representation, len(reps))
	for i := range reps {
		h.idToRep[reps[i].ID] = &reps[i]
	}

	return nil
}

// LoadHNSWMetadata loads metadata from the .meta sidecar file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// saveRepresentationRecords saves representation records to a .reps sidecar
// file for fast loading at startup.
func saveRepresentationRecords(path string, reps []Representation) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(reps); err != nil {
		return fmt.Errorf("failed to encode representations: %w", err)
	}

	if err := os.WriteFile(path+".reps", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write representations file: %w", err)
	}

	return nil
}

// loadRepresentationRecords loads representation records from the .reps sidecar file.
func loadRepresentationRecords(path string) ([]Representation, error) {
	data, err := os.ReadFile(path + ".reps") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read representations file: %w", err)
	}

	var reps []Representation
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to decode representations: %w", err)
	}

	return reps, nil
}
