package embeddings

import (
	"strings"
)

// ChunkOptions control how document text is split before embedding.
type ChunkOptions struct {
	Size    int // target characters per chunk
	Overlap int // characters carried over between adjacent chunks

	// Prefix is prepended to every chunk, for embedders trained with
	// an instruction prefix.
	Prefix string

	// Header carries document metadata repeated at the top of each
	// chunk so retrieval hits keep their provenance.
	Header string
}

// ChunkText splits text into overlapping chunks, preferring paragraph
// and sentence boundaries near the target size. Empty input yields no
// chunks.
func ChunkText(text string, opts ChunkOptions) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if opts.Size <= 0 {
		opts.Size = 1000
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = 0
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := start + opts.Size
		if end >= len(text) {
			chunks = append(chunks, decorate(text[start:], opts))
			break
		}
		end = splitPoint(text, start, end)
		chunks = append(chunks, decorate(text[start:end], opts))

		next := end - opts.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// splitPoint walks back from the hard limit to the nearest paragraph,
// newline, or sentence boundary, as long as the chunk keeps a useful
// size.
func splitPoint(text string, start, limit int) int {
	window := text[start:limit]
	minSize := (limit - start) / 2

	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if idx := strings.LastIndex(window, sep); idx > minSize {
			return start + idx + len(sep)
		}
	}
	return limit
}

func decorate(chunk string, opts ChunkOptions) string {
	chunk = strings.TrimSpace(chunk)
	var sb strings.Builder
	if opts.Prefix != "" {
		sb.WriteString(opts.Prefix)
	}
	if opts.Header != "" {
		sb.WriteString(opts.Header)
		sb.WriteString("\n")
	}
	sb.WriteString(chunk)
	return sb.String()
}
