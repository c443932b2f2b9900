package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// readPlainText reads a file verbatim, rejecting binary content.
func readPlainText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(raw), nil
}

// readMarkdownText extracts the plain text from a markdown file by
// walking the parsed AST. Formatting syntax is dropped; headings, code
// blocks, and paragraphs all contribute their raw text.
func readMarkdownText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	md := goldmark.New()
	reader := text.NewReader(raw)
	root := md.Parser().Parse(reader)

	var sb bytes.Buffer
	err = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(raw))
			if node.HardLineBreak() || node.SoftLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			writeCodeLines(&sb, node.Lines(), raw)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeCodeLines(&sb, node.Lines(), raw)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walking markdown: %w", err)
	}
	return sb.String(), nil
}

func writeCodeLines(sb *bytes.Buffer, lines *text.Segments, raw []byte) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(raw))
	}
}

// readJSONText validates and normalizes a JSON file into an indented
// string so the content embeds consistently.
func readJSONText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
