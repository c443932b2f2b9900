package embeddings

import (
	"strings"
	"testing"
)

func TestChunkTextEmpty(t *testing.T) {
	if got := ChunkText("", ChunkOptions{Size: 100}); got != nil {
		t.Errorf("empty input should yield no chunks, got %v", got)
	}
	if got := ChunkText("   \n\t  ", ChunkOptions{Size: 100}); got != nil {
		t.Errorf("whitespace input should yield no chunks, got %v", got)
	}
}

func TestChunkTextSingleChunk(t *testing.T) {
	chunks := ChunkText("short text", ChunkOptions{Size: 100})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "short text" {
		t.Errorf("chunk = %q, want %q", chunks[0], "short text")
	}
}

func TestChunkTextSplitsAtParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 30)
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := ChunkText(text, ChunkOptions{Size: 200, Overlap: 0})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d chars at size 200, got %d", len(text), len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk %d is %d chars, exceeds size 200", i, len(c))
		}
	}
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 50)

	chunks := ChunkText(text, ChunkOptions{Size: 120, Overlap: 30})
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	// Adjacent chunks share carried-over text.
	tail := chunks[0][len(chunks[0])-10:]
	if !strings.Contains(chunks[1], tail) {
		t.Errorf("chunk 1 does not carry the tail of chunk 0: %q not in %q", tail, chunks[1])
	}
}

func TestChunkTextCoversAllContent(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("sentence one. sentence two. ", 40))

	chunks := ChunkText(text, ChunkOptions{Size: 150, Overlap: 20})
	joined := strings.Join(chunks, "")
	// Every non-space character of the input appears in the output.
	for _, word := range []string{"sentence one.", "sentence two."} {
		if !strings.Contains(joined, word) {
			t.Errorf("chunk output missing %q", word)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(chunks[len(chunks)-1]), "two.") {
		t.Errorf("final chunk should end with the document tail, got %q", chunks[len(chunks)-1])
	}
}

func TestChunkTextPrefixAndHeader(t *testing.T) {
	opts := ChunkOptions{
		Size:   100,
		Prefix: "passage: ",
		Header: "sourceDocument: report.txt",
	}
	chunks := ChunkText("body text", opts)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := "passage: sourceDocument: report.txt\nbody text"
	if chunks[0] != want {
		t.Errorf("chunk = %q, want %q", chunks[0], want)
	}
}

func TestChunkTextBadOverlapIgnored(t *testing.T) {
	text := strings.Repeat("x", 500)
	chunks := ChunkText(text, ChunkOptions{Size: 100, Overlap: 100})
	if len(chunks) != 5 {
		t.Errorf("overlap >= size should be ignored, expected 5 chunks, got %d", len(chunks))
	}
}
