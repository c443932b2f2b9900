package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// visionServer fakes an OpenAI-compatible chat completions endpoint and
// counts the requests it served.
func visionServer(t *testing.T, caption string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q, want chat/completions", r.URL.Path)
		}
		calls.Add(1)

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("expected system + user messages, got %d", len(req.Messages))
		}
		if !strings.Contains(string(req.Messages[1].Content), "data:image/jpeg;base64,") {
			t.Error("user message missing the image data URL")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": caption}},
			},
		})
	}))
}

func TestDescribe(t *testing.T) {
	var calls atomic.Int32
	srv := visionServer(t, "A tabby cat sleeping on a windowsill.", &calls)
	defer srv.Close()

	d, err := NewDescriber(srv.URL, "", "qwen2-vl")
	if err != nil {
		t.Fatalf("NewDescriber: %v", err)
	}

	caption, err := d.Describe(context.Background(), "aW1hZ2U=")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if caption != "A tabby cat sleeping on a windowsill." {
		t.Errorf("caption = %q", caption)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
}

func TestDescribeCachesByContent(t *testing.T) {
	var calls atomic.Int32
	srv := visionServer(t, "caption", &calls)
	defer srv.Close()

	d, err := NewDescriber(srv.URL, "", "qwen2-vl")
	if err != nil {
		t.Fatalf("NewDescriber: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := d.Describe(ctx, "c2FtZQ=="); err != nil {
			t.Fatalf("Describe %d: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("repeated identical image should hit the cache, got %d requests", calls.Load())
	}

	if _, err := d.Describe(ctx, "ZGlmZmVyZW50"); err != nil {
		t.Fatalf("Describe different: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("different image should issue a new request, got %d", calls.Load())
	}
}

func TestDescribeEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "   "}},
			},
		})
	}))
	defer srv.Close()

	d, err := NewDescriber(srv.URL, "", "m")
	if err != nil {
		t.Fatalf("NewDescriber: %v", err)
	}
	if _, err := d.Describe(context.Background(), "aW1n"); !errors.Is(err, ErrNoDescription) {
		t.Errorf("expected ErrNoDescription, got %v", err)
	}
}

func TestNewDescriberRequiresBaseURL(t *testing.T) {
	if _, err := NewDescriber("", "", "m"); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestDescribeAll(t *testing.T) {
	var calls atomic.Int32
	srv := visionServer(t, "batch caption", &calls)
	defer srv.Close()

	d, err := NewDescriber(srv.URL, "", "m")
	if err != nil {
		t.Fatalf("NewDescriber: %v", err)
	}

	imgs := []string{"YQ==", "Yg==", "Yw=="}
	captions, errs := d.DescribeAll(context.Background(), imgs, 2)
	if len(captions) != 3 || len(errs) != 3 {
		t.Fatalf("expected parallel slices of 3, got %d/%d", len(captions), len(errs))
	}
	for i := range imgs {
		if errs[i] != nil {
			t.Errorf("image %d: %v", i, errs[i])
		}
		if captions[i] != "batch caption" {
			t.Errorf("image %d caption = %q", i, captions[i])
		}
	}
}
