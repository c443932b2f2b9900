// Package embeddings talks to the embedding HTTP services and
// centralizes vector normalization and query-time embedder selection.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for embedding calls.
var (
	// ErrInvalidChunk reports a non-usable chunk where the call cannot
	// continue.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrZeroEmbedding reports a returned vector with zero magnitude.
	ErrZeroEmbedding = errors.New("zero-magnitude embedding")

	// ErrBackendUnavailable reports an unreachable embedding service.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
)

// Embedder generates text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts. Every returned
	// vector is unit-normalized.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// Normalize scales v to unit L2 magnitude in place. A zero-magnitude
// vector is rejected with ErrZeroEmbedding.
func Normalize(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return ErrZeroEmbedding
	}
	inv := float32(1 / mag)
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// Stats summarizes a vector for diagnostic logs.
type Stats struct {
	Dimensions int
	Magnitude  float64
	Mean       float64
	Std        float64
}

// VectorStats computes diagnostic statistics for a vector.
func VectorStats(v []float32) Stats {
	if len(v) == 0 {
		return Stats{}
	}
	var sum, sqSum float64
	for _, x := range v {
		sum += float64(x)
		sqSum += float64(x) * float64(x)
	}
	mean := sum / float64(len(v))
	variance := sqSum/float64(len(v)) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{
		Dimensions: len(v),
		Magnitude:  math.Sqrt(sqSum),
		Mean:       mean,
		Std:        math.Sqrt(variance),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("dim=%d |v|=%.6f mean=%.6f std=%.6f", s.Dimensions, s.Magnitude, s.Mean, s.Std)
}
