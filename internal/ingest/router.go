// Package ingest routes uploaded files to the right parser by
// extension, writes the resulting document records under the documents
// root, and announces them on the change bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zphilip/anything-llm-nas/internal/bus"
	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/ingest/images"
	"github.com/zphilip/anything-llm-nas/internal/metastore"
	"github.com/zphilip/anything-llm-nas/internal/paths"
)

// ErrUnsupportedType reports a file extension with no registered handler.
var ErrUnsupportedType = errors.New("unsupported file type")

// imageExtensions routes to the image pipeline. RAW formats are listed
// in the images package.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tga": true, ".tif": true, ".tiff": true,
	".nef": true, ".cr2": true, ".crw": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true, ".srw": true, ".raf": true,
}

// Router dispatches files by extension and owns document persistence.
type Router struct {
	resolver *paths.Resolver
	images   *images.Pipeline
	store    *metastore.Store
	bus      *bus.Bus

	textHandlers map[string]func(path string) (string, error)
}

// NewRouter creates a Router writing documents under the resolver root.
func NewRouter(resolver *paths.Resolver, imgs *images.Pipeline, store *metastore.Store, b *bus.Bus) *Router {
	r := &Router{
		resolver: resolver,
		images:   imgs,
		store:    store,
		bus:      b,
	}
	r.textHandlers = map[string]func(string) (string, error){
		".txt":      readPlainText,
		".log":      readPlainText,
		".md":       readMarkdownText,
		".markdown": readMarkdownText,
		".json":     readJSONText,
	}
	return r
}

// Ingest processes one uploaded file into the given folder. The source
// file stays where it is for text types; image conversions follow the
// pipeline's trash policy.
func (r *Router) Ingest(ctx context.Context, srcPath, originalName, folder string) (*docs.Document, error) {
	ext := strings.ToLower(filepath.Ext(originalName))

	var (
		doc *docs.Document
		err error
	)
	switch {
	case imageExtensions[ext]:
		doc, err = r.images.Process(srcPath, originalName)
	default:
		handler, ok := r.textHandlers[ext]
		if !ok {
			return nil, fmt.Errorf("%s: %w: %s", originalName, ErrUnsupportedType, ext)
		}
		doc, err = r.ingestText(srcPath, originalName, handler)
	}
	if err != nil {
		return nil, err
	}

	fileName, err := r.writeDocument(folder, originalName, doc)
	if err != nil {
		return nil, fmt.Errorf("%s: persist: %w", originalName, err)
	}

	r.announce(ctx, folder, fileName, doc)
	return doc, nil
}

func (r *Router) ingestText(srcPath, originalName string, handler func(string) (string, error)) (*docs.Document, error) {
	content, err := handler(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%s: parse: %w", originalName, err)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%s: stat: %w", originalName, err)
	}

	now := time.Now()
	return &docs.Document{
		ID:                 uuid.New().String(),
		URL:                "file://" + srcPath,
		Title:              originalName,
		DocAuthor:          "Unknown",
		Description:        "Unknown",
		DocSource:          "a text file uploaded by the user",
		ChunkSource:        "localfile://" + originalName,
		Published:          now.Format(time.RFC3339),
		WordCount:          len(strings.Fields(content)),
		TokenCountEstimate: len(content) / 4,
		PageContent:        content,
		Extension:          strings.TrimPrefix(strings.ToLower(filepath.Ext(originalName)), "."),
		FileType:           docs.FileTypeText,
		MtimeMs:            info.ModTime().UnixMilli(),
		Size:               info.Size(),
	}, nil
}

// writeDocument stores the document at documents/<folder>/<slug>-<uuid>.json
// and returns the file name.
func (r *Router) writeDocument(folder, originalName string, doc *docs.Document) (string, error) {
	fileName := fmt.Sprintf("%s-%s.json", slugify(originalName), doc.ID)

	dir, err := r.resolver.Resolve(folder)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating folder %s: %w", folder, err)
	}

	path, err := r.resolver.Resolve(folder, fileName)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing document: %w", err)
	}
	return fileName, nil
}

// announce hands the stripped metadata to the index worker: the record
// goes into a transient store key, and the add event goes on the bus.
func (r *Router) announce(ctx context.Context, folder, fileName string, doc *docs.Document) {
	meta := doc.Metadata(fileName)
	if _, err := r.store.SaveFileMetadata(ctx, folder, fileName, meta); err != nil {
		log.Printf("ingest: staging metadata for %s/%s: %v", folder, fileName, err)
	}
	if err := r.bus.PublishMessage(ctx, bus.Message{Action: "add", Folder: folder, File: fileName}); err != nil {
		log.Printf("ingest: publishing add for %s/%s: %v", folder, fileName, err)
	}
}

// Remove deletes a document file and announces the removal. Derived
// index entries are cleaned up best-effort by the consumers.
func (r *Router) Remove(ctx context.Context, folder, fileName string) error {
	path, err := r.resolver.Resolve(folder, fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s/%s: %w", folder, fileName, err)
	}
	return r.bus.PublishMessage(ctx, bus.Message{Action: "remove", Folder: folder, File: fileName})
}

// slugify lowercases a name and collapses anything non-alphanumeric.
func slugify(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && sb.Len() > 0 {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}
