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

	"github.com/zphilip/anything-llm-nas/internal/ingest/images"
)

// PayloadFormat selects the multimodal wire shape. A server accepts one
// of the two; the same format must be used for images at ingest time
// and for text-only queries, or the vectors land in different subspaces.
type PayloadFormat string

const (
	// FormatPrompt is the primary shape:
	// {content:[{prompt_string:"...<__media__>...", multimodal_data:[b64]}], parameter:{output_dimension:D}}
	FormatPrompt PayloadFormat = "prompt"

	// FormatImageData is the alternative shape:
	// {content:"Image: [img-0]", image_data:[{data:b64,id:0}]}
	FormatImageData PayloadFormat = "image_data"
)

// mediaToken marks where the image is spliced into the prompt string.
const mediaToken = "<__media__>"

// MultimodalEmbedder embeds images and text into a shared space via a
// multimodal-aware /embedding endpoint.
type MultimodalEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	maxEdge    int
	format     PayloadFormat
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewMultimodalEmbedder creates a multimodal embedder. maxEdge bounds
// the longest image edge before upload (0 means no resizing).
func NewMultimodalEmbedder(baseURL, model string, dimensions, maxEdge int, format PayloadFormat) *MultimodalEmbedder {
	if format == "" {
		format = FormatPrompt
	}
	return &MultimodalEmbedder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		maxEdge:    maxEdge,
		format:     format,
		httpClient: &http.Client{Timeout: embedCallTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "multimodal-embedder",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (e *MultimodalEmbedder) Name() string    { return e.model }
func (e *MultimodalEmbedder) Dimensions() int { return e.dimensions }

type promptContent struct {
	PromptString   string   `json:"prompt_string"`
	MultimodalData []string `json:"multimodal_data,omitempty"`
}

type promptPayload struct {
	Content   []promptContent `json:"content"`
	Parameter struct {
		OutputDimension int `json:"output_dimension"`
	} `json:"parameter"`
}

type imageDataPayload struct {
	Content   string `json:"content"`
	ImageData []struct {
		Data string `json:"data"`
		ID   int    `json:"id"`
	} `json:"image_data"`
}

// EmbedImage embeds a base64 PNG, using description as the instruction
// text. The image is downscaled to the configured longest edge first
// (aspect preserved, never upscaled).
func (e *MultimodalEmbedder) EmbedImage(ctx context.Context, imageBase64, description string) ([]float32, error) {
	if imageBase64 == "" {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidChunk)
	}

	if e.maxEdge > 0 {
		resized, err := images.ResizeBase64PNG(imageBase64, e.maxEdge)
		if err != nil {
			return nil, fmt.Errorf("resizing image for embedding: %w", err)
		}
		imageBase64 = resized
	}

	var payload any
	switch e.format {
	case FormatImageData:
		p := imageDataPayload{Content: "Image: [img-0]"}
		p.ImageData = append(p.ImageData, struct {
			Data string `json:"data"`
			ID   int    `json:"id"`
		}{Data: imageBase64, ID: 0})
		payload = p
	default:
		prompt := "Instruct: " + description + " " + mediaToken
		if description == "" {
			prompt = mediaToken
		}
		p := promptPayload{Content: []promptContent{{
			PromptString:   prompt,
			MultimodalData: []string{imageBase64},
		}}}
		p.Parameter.OutputDimension = e.dimensions
		payload = p
	}

	return e.call(ctx, payload)
}

// EmbedText embeds a text-only query through the multimodal endpoint in
// the same payload family used for images, so query vectors share the
// stored image subspace.
func (e *MultimodalEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidChunk)
	}

	var payload any
	switch e.format {
	case FormatImageData:
		payload = embedRequest{Content: text}
	default:
		p := promptPayload{Content: []promptContent{{PromptString: text}}}
		p.Parameter.OutputDimension = e.dimensions
		payload = p
	}

	return e.call(ctx, payload)
}

// Embed implements Embedder over EmbedText.
func (e *MultimodalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		results = append(results, vec)
	}
	return results, nil
}

func (e *MultimodalEmbedder) call(ctx context.Context, payload any) ([]float32, error) {
	raw, err := e.breaker.Execute(func() (any, error) {
		return e.doPost(ctx, payload)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrBackendUnavailable, e.baseURL)
	}
	if err != nil {
		return nil, err
	}

	vec, err := parseEmbeddingResponse(raw.([]byte))
	if err != nil {
		return nil, err
	}
	if err := Normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *MultimodalEmbedder) doPost(ctx context.Context, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal multimodal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create multimodal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read multimodal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("multimodal embedder returned status %d: %s", resp.StatusCode, truncateForLog(respBody))
	}
	return respBody, nil
}
