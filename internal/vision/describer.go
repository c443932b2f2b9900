// Package vision produces natural-language captions for images through
// an OpenAI-compatible chat completions endpoint. Captions feed the
// multimodal embedding path and the text fallback for image documents.
package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNoDescription reports an empty model response.
var ErrNoDescription = errors.New("model returned no description")

// describeTimeout bounds one describe round trip. Vision models on
// local hardware can take minutes per image.
const describeTimeout = 10 * time.Minute

// cacheSize is the number of captions kept, keyed by content hash so
// re-scans of unchanged images never re-query the model.
const cacheSize = 512

const systemPrompt = "You are an assistant that perfectly describes images. " +
	"Describe the image factually and thoroughly in a few sentences: " +
	"subjects, setting, colors, text, and anything notable. Do not speculate."

// Describer captions images via a chat completions endpoint.
type Describer struct {
	client *openai.Client
	model  string

	mu    sync.Mutex
	cache *lru.Cache[string, string]
}

// NewDescriber creates a Describer against baseURL (an OpenAI-compatible
// /v1 endpoint). apiKey may be empty for local servers.
func NewDescriber(baseURL, apiKey, model string) (*Describer, error) {
	if baseURL == "" {
		return nil, errors.New("vision base URL is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")

	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Describer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		cache:  cache,
	}, nil
}

// Describe captions a single base64-encoded image.
func (d *Describer) Describe(ctx context.Context, imageBase64 string) (string, error) {
	key := contentKey(imageBase64)

	d.mu.Lock()
	if cached, ok := d.cache.Get(key); ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this image.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageBase64,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describing image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoDescription
	}
	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	if caption == "" {
		return "", ErrNoDescription
	}

	d.mu.Lock()
	d.cache.Add(key, caption)
	d.mu.Unlock()
	return caption, nil
}

// DescribeAll captions a batch of images concurrently. The returned
// slices are parallel to the input: a failed entry has an empty caption
// and its error at the same index.
func (d *Describer) DescribeAll(ctx context.Context, imagesBase64 []string, concurrency int) ([]string, []error) {
	if concurrency < 1 {
		concurrency = 1
	}

	captions := make([]string, len(imagesBase64))
	errs := make([]error, len(imagesBase64))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, img := range imagesBase64 {
		wg.Add(1)
		go func(i int, img string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			captions[i], errs[i] = d.Describe(ctx, img)
		}(i, img)
	}
	wg.Wait()
	return captions, errs
}

func contentKey(imageBase64 string) string {
	sum := sha256.Sum256([]byte(imageBase64))
	return hex.EncodeToString(sum[:])
}
