package facematch

import (
	"fmt"
	"sort"
)

// Match is one ranked recognition candidate.
type Match struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// Rank orders the gallery's identities by distance to the query embedding.
// Each label scores the minimum distance over its entries, so an identity
// with several reference photos is represented by its best one. The result
// is sorted ascending, exact ties keep first-seen label order and ranks are
// 1-based. topK truncates the list and must be >= 1.
//
// Rank applies no threshold: every identity in the gallery appears in the
// full result. Accept/reject cutoffs belong to the report layer.
func Rank(query []float32, g *Gallery, model string, metric Metric, topK int) ([]Match, error) {
	if g == nil || g.Len() == 0 {
		return nil, ErrEmptyGallery
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if model != g.Model() {
		return nil, &ModelMismatchError{Want: g.Model(), Got: model}
	}
	if len(query) != g.Dim() {
		return nil, &DimensionMismatchError{A: len(query), B: g.Dim()}
	}

	// Best distance per label, labels kept in first-seen order.
	best := make(map[string]float64, g.Len())
	order := make([]string, 0, g.Len())
	for _, e := range g.Entries() {
		d, err := Distance(query, e.Vector, metric)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Label, err)
		}
		if cur, ok := best[e.Label]; !ok {
			best[e.Label] = d
			order = append(order, e.Label)
		} else if d < cur {
			best[e.Label] = d
		}
	}

	matches := make([]Match, 0, len(order))
	for _, label := range order {
		matches = append(matches, Match{Label: label, Distance: best[label]})
	}
	// Stable sort preserves first-seen order for exact distance ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if topK < len(matches) {
		matches = matches[:topK]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches, nil
}

// RankAll ranks the query against every identity in the gallery.
func RankAll(query []float32, g *Gallery, model string, metric Metric) ([]Match, error) {
	if g == nil || g.Len() == 0 {
		return nil, ErrEmptyGallery
	}
	return Rank(query, g, model, metric, g.LabelCount())
}
