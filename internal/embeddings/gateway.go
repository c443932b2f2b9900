package embeddings

import (
	"context"
	"fmt"
	"log"
)

// Gateway owns the choice of embedder for every call. Stored image
// vectors live in the multimodal space, so when a multimodal embedder
// is configured every query must go through it (text-only path) or
// cosine similarity against images collapses toward zero.
type Gateway struct {
	text       Embedder
	multimodal *MultimodalEmbedder // nil when not configured
}

// NewGateway creates a Gateway. multimodal may be nil.
func NewGateway(text Embedder, multimodal *MultimodalEmbedder) *Gateway {
	return &Gateway{text: text, multimodal: multimodal}
}

// HasMultimodal reports whether a multimodal embedder is active.
func (g *Gateway) HasMultimodal() bool { return g.multimodal != nil }

// Multimodal returns the active multimodal embedder, or nil.
func (g *Gateway) Multimodal() *MultimodalEmbedder { return g.multimodal }

// Text returns the standard text embedder.
func (g *Gateway) Text() Embedder { return g.text }

// EmbedChunks embeds document text chunks with the standard embedder.
func (g *Gateway) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	return g.text.Embed(ctx, texts)
}

// EmbedQuery embeds a search query. With a multimodal embedder active
// the query goes through it; the standard embedder is only a fallback
// on multimodal failure, and the fallback is surfaced in the logs and
// the return value. collectionDim, when > 0, is the dimension of the
// target collection; a mismatched result is rejected rather than
// silently searched.
func (g *Gateway) EmbedQuery(ctx context.Context, query string, collectionDim int) (vec []float32, viaMultimodal bool, err error) {
	if g.multimodal != nil {
		vec, err = g.multimodal.EmbedText(ctx, query)
		if err == nil {
			return g.checkQueryVector(vec, collectionDim, true)
		}
		log.Printf("embeddings: multimodal query embed failed, falling back to %s: %v", g.text.Name(), err)
	}

	vecs, err := g.text.Embed(ctx, []string{query})
	if err != nil {
		return nil, false, err
	}
	if len(vecs) != 1 {
		return nil, false, fmt.Errorf("query embed returned %d vectors, expected 1", len(vecs))
	}
	return g.checkQueryVector(vecs[0], collectionDim, false)
}

func (g *Gateway) checkQueryVector(vec []float32, collectionDim int, viaMultimodal bool) ([]float32, bool, error) {
	stats := VectorStats(vec)
	log.Printf("embeddings: query vector %s multimodal=%v", stats, viaMultimodal)

	if collectionDim > 0 && len(vec) != collectionDim {
		log.Printf("embeddings: query dimension %d does not match collection dimension %d", len(vec), collectionDim)
		return nil, viaMultimodal, fmt.Errorf(
			"query vector dimension %d != collection dimension %d: recreate the collection with the active embedder",
			len(vec), collectionDim)
	}
	return vec, viaMultimodal, nil
}
