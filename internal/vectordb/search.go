package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
)

// maxCandidates caps the raw candidate set pulled per query, however
// large the requested result count gets after over-fetching.
const maxCandidates = 200

// Reranker re-scores candidate texts against a query. Implementations
// typically front a cross-encoder service.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// SearchOptions control one similarity query.
type SearchOptions struct {
	TopN int

	// Metric selects how scores are expressed and thresholded. Vectors
	// in the store are unit length, so every metric derives exactly
	// from cosine similarity.
	Metric DistanceMetric

	// Threshold is a similarity floor for cosine and dot queries, and a
	// distance ceiling for L2 queries. Zero disables it.
	Threshold float32

	// FilterIdentifiers excludes documents already present in the
	// caller's context, matched on the sourceIdentifier metadata key
	// with the document ID as fallback.
	FilterIdentifiers []string

	// Reranker, when set with a Query, re-orders a candidate pool with
	// a cross-encoder before truncation to TopN.
	Reranker Reranker
	Query    string
}

// Source is one search hit with its full metadata. Image documents keep
// their base64 payload here but never in ContextTexts.
type Source struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Distance float32           `json:"distance"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Response is the shaped result of a similarity query.
type Response struct {
	ContextTexts []string  `json:"contextTexts"`
	Sources      []Source  `json:"sourceDocuments"`
	Scores       []float32 `json:"scores"`
}

// Search runs a similarity query against one namespace. The query
// vector must match the collection's dimensionality and be unit length.
func (s *Store) Search(ctx context.Context, namespace string, vector []float32, opts SearchOptions) (*Response, error) {
	if len(vector) == 0 {
		return nil, ErrNoQueryVector
	}
	if opts.TopN <= 0 {
		opts.TopN = 4
	}

	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if col == nil || col.Count() == 0 {
		return &Response{}, nil
	}
	count := col.Count()

	// Over-fetch so threshold and identifier filtering still leave
	// enough hits to fill TopN.
	candidates := opts.TopN * 2
	if opts.Reranker != nil {
		if pool := rerankPool(count); pool > candidates {
			candidates = pool
		}
	}
	if candidates > maxCandidates {
		candidates = maxCandidates
	}
	if candidates > count {
		candidates = count
	}

	results, err := col.QueryEmbedding(ctx, vector, candidates, nil, nil)
	if err != nil {
		if isDimensionError(err) {
			return nil, fmt.Errorf("%w in %s: %v; re-embed the workspace with the active embedder to recreate the collection", ErrDimensionMismatch, namespace, err)
		}
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	excluded := make(map[string]bool, len(opts.FilterIdentifiers))
	for _, id := range opts.FilterIdentifiers {
		excluded[id] = true
	}

	sources := make([]Source, 0, len(results))
	for _, r := range results {
		ident := r.Metadata["sourceIdentifier"]
		if ident == "" {
			ident = r.Metadata["docId"]
		}
		if excluded[ident] || excluded[r.ID] {
			continue
		}

		sim := clampSimilarity(r.Similarity)
		score, distance := scoreForMetric(sim, opts.Metric)
		if !passesThreshold(sim, distance, opts) {
			continue
		}
		sources = append(sources, Source{
			ID:       r.ID,
			Score:    score,
			Distance: distance,
			Text:     r.Content,
			Metadata: r.Metadata,
		})
	}

	if opts.Reranker != nil && opts.Query != "" && len(sources) > 1 {
		sources = rerankSources(ctx, opts.Reranker, opts.Query, sources)
	}
	if len(sources) > opts.TopN {
		sources = sources[:opts.TopN]
	}

	resp := &Response{
		ContextTexts: make([]string, len(sources)),
		Sources:      sources,
		Scores:       make([]float32, len(sources)),
	}
	for i, src := range sources {
		resp.ContextTexts[i] = src.Text
		resp.Scores[i] = src.Score
	}
	return resp, nil
}

// rerankPool sizes the candidate pool handed to the cross-encoder:
// a tenth of the collection, floored at 10 and capped at 50.
func rerankPool(count int) int {
	pool := (count + 9) / 10
	if pool < 10 {
		pool = 10
	}
	if pool > 50 {
		pool = 50
	}
	return pool
}

func rerankSources(ctx context.Context, rr Reranker, query string, sources []Source) []Source {
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = src.Text
	}
	scores, err := rr.Rerank(ctx, query, texts)
	if err != nil || len(scores) != len(sources) {
		// Vector ordering is still a valid answer.
		log.Printf("vectordb: rerank failed, keeping vector order: %v", err)
		return sources
	}
	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	out := make([]Source, len(sources))
	for i, idx := range order {
		out[i] = sources[idx]
	}
	return out
}

func clampSimilarity(sim float32) float32 {
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// scoreForMetric derives the reported score and distance from cosine
// similarity. Unit-length vectors make the conversions exact:
// dot equals cosine, and L2 distance is sqrt(2 - 2*cos).
func scoreForMetric(sim float32, metric DistanceMetric) (score, distance float32) {
	l2 := float32(math.Sqrt(math.Max(0, float64(2-2*sim))))
	switch metric {
	case MetricL2:
		return sim, l2
	case MetricDot:
		return sim, 1 - sim
	default:
		return sim, 1 - sim
	}
}

func passesThreshold(sim, distance float32, opts SearchOptions) bool {
	if opts.Threshold == 0 {
		return true
	}
	if opts.Metric == MetricL2 {
		l2 := float32(math.Sqrt(math.Max(0, float64(2-2*sim))))
		return l2 <= opts.Threshold
	}
	_ = distance
	return sim >= opts.Threshold
}

// QualityBucket labels a cosine similarity for diagnostics.
func QualityBucket(sim float32) string {
	switch {
	case sim >= 0.85:
		return "excellent"
	case sim >= 0.70:
		return "good"
	case sim >= 0.50:
		return "moderate"
	case sim >= 0.25:
		return "low"
	case sim >= -0.25:
		return "orthogonal"
	default:
		return "opposite"
	}
}

// ErrNoQueryVector reports a search attempted with an empty vector.
var ErrNoQueryVector = errors.New("empty query vector")
