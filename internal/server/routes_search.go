package server

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zphilip/anything-llm-nas/internal/embeddings"
	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

type searchRequest struct {
	Namespaces     []string `json:"namespaces"`
	Search         string   `json:"search"`
	DistanceMetric string   `json:"distanceMetric"`
	Limit          int      `json:"limit"`
	Threshold      float32  `json:"threshold"`
	Rerank         bool     `json:"rerank"`
}

type searchHit struct {
	Namespace string            `json:"namespace"`
	ID        string            `json:"id"`
	Score     float32           `json:"score"`
	Distance  float32           `json:"distance"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) registerSearchRoutes(r chi.Router) {
	r.Post("/search", s.handleSearch)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}
	if strings.TrimSpace(req.Search) == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", errors.New("search text is required"))
		return
	}
	if len(req.Namespaces) == 0 {
		req.Namespaces = s.deps.Vectors.Namespaces()
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	metric, err := parseMetric(req.DistanceMetric)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}

	vec, viaMultimodal, err := s.deps.Gateway.EmbedQuery(r.Context(), req.Search, s.deps.Config.Embedding.Dimensions)
	if err != nil {
		status := http.StatusInternalServerError
		kind := "BackendUnavailable"
		if errors.Is(err, embeddings.ErrBackendUnavailable) {
			status = http.StatusBadGateway
		} else if strings.Contains(err.Error(), "dimension") {
			kind = "DimensionMismatch"
		}
		writeError(w, status, kind, err)
		return
	}

	opts := vectordb.SearchOptions{
		TopN:      req.Limit,
		Metric:    metric,
		Threshold: req.Threshold,
	}
	if req.Rerank {
		if s.deps.Reranker == nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest",
				errors.New("rerank requested but no rerank service is configured"))
			return
		}
		opts.Reranker = s.deps.Reranker
		opts.Query = req.Search
	}

	var hits []searchHit
	for _, ns := range req.Namespaces {
		resp, err := s.deps.Vectors.Search(r.Context(), ns, vec, opts)
		if err != nil {
			if errors.Is(err, vectordb.ErrDimensionMismatch) {
				writeError(w, http.StatusInternalServerError, "DimensionMismatch", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "Internal", err)
			return
		}
		for _, src := range resp.Sources {
			hits = append(hits, searchHit{
				Namespace: ns,
				ID:        src.ID,
				Score:     src.Score,
				Distance:  src.Distance,
				Text:      src.Text,
				Metadata:  src.Metadata,
			})
		}
	}

	// Merge across namespaces on the chosen metric: ascending distance
	// for L2, descending score otherwise. Ties keep insertion order.
	sort.SliceStable(hits, func(a, b int) bool {
		if metric == vectordb.MetricL2 {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Score > hits[b].Score
	})
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	if len(hits) > 0 {
		log.Printf("search: %d hits, best score=%.4f (%s) multimodal=%v",
			len(hits), hits[0].Score, vectordb.QualityBucket(hits[0].Score), viaMultimodal)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func parseMetric(name string) (vectordb.DistanceMetric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cosine", "similarity":
		return vectordb.MetricCosine, nil
	case "l2", "distance", "euclidean":
		return vectordb.MetricL2, nil
	case "dot", "dotproduct", "dot_product":
		return vectordb.MetricDot, nil
	default:
		return "", errors.New("distanceMetric must be one of cosine, l2, dot")
	}
}
