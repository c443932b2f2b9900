package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const embedCallTimeout = 60 * time.Second

// LlamaEmbedder generates text embeddings against a llama-server style
// endpoint: POST <base>/embedding with {"content": text}. Chunks are
// embedded one request at a time; the embedder service is the
// throughput bottleneck, so batching buys nothing.
type LlamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewLlamaEmbedder creates an embedder for the service at baseURL.
// dimensions is the fixed output dimension of the configured model.
func NewLlamaEmbedder(baseURL, model string, dimensions int) *LlamaEmbedder {
	return &LlamaEmbedder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: embedCallTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embedder",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (e *LlamaEmbedder) Name() string    { return e.model }
func (e *LlamaEmbedder) Dimensions() int { return e.dimensions }

type embedRequest struct {
	Content string `json:"content"`
}

type embedResponseItem struct {
	Embedding [][]float32 `json:"embedding"`
}

// Embed embeds each text sequentially. Empty chunks get a zero-vector
// placeholder so a batch with a blank line does not abort; every real
// vector is normalized to unit magnitude.
func (e *LlamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results = append(results, make([]float32, e.dimensions))
			continue
		}

		vec, err := e.embedSingle(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		results = append(results, vec)
	}
	return results, nil
}

func (e *LlamaEmbedder) embedSingle(ctx context.Context, text string) ([]float32, error) {
	body, err := e.post(ctx, embedRequest{Content: text})
	if err != nil {
		return nil, err
	}

	vec, err := parseEmbeddingResponse(body)
	if err != nil {
		return nil, err
	}
	if err := Normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// post sends a JSON payload to the /embedding endpoint through the
// circuit breaker. An open breaker surfaces ErrBackendUnavailable
// without issuing the call.
func (e *LlamaEmbedder) post(ctx context.Context, payload any) ([]byte, error) {
	raw, err := e.breaker.Execute(func() (any, error) {
		return e.doPost(ctx, payload)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrBackendUnavailable, e.baseURL)
	}
	if err != nil {
		return nil, err
	}
	return raw.([]byte), nil
}

func (e *LlamaEmbedder) doPost(ctx context.Context, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// parseEmbeddingResponse accepts the two shapes the server emits:
// [{"embedding": [[...]]}] and {"embedding": [...]}.
func parseEmbeddingResponse(body []byte) ([]float32, error) {
	var items []embedResponseItem
	if err := json.Unmarshal(body, &items); err == nil && len(items) > 0 && len(items[0].Embedding) > 0 {
		return items[0].Embedding[0], nil
	}

	var single struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &single); err == nil && len(single.Embedding) > 0 {
		return single.Embedding, nil
	}

	return nil, fmt.Errorf("embedder returned no embedding: %s", truncateForLog(body))
}

func truncateForLog(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
