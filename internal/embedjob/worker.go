package embedjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/embeddings"
	"github.com/zphilip/anything-llm-nas/internal/events"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

// Captioner produces an AI caption for a base64 image.
type Captioner interface {
	Describe(ctx context.Context, imageBase64 string) (string, error)
}

// Worker executes embedding sessions against the vector store.
type Worker struct {
	root      string // documents dir
	vcache    *vectorcache.Cache
	gateway   *embeddings.Gateway
	captioner Captioner // nil when no vision endpoint is configured
	store     *vectordb.Store
	eventLog  *events.Store

	chunkSize    int
	chunkOverlap int
}

// NewWorker wires an embedding worker. captioner and eventLog may be nil.
func NewWorker(root string, vcache *vectorcache.Cache, gateway *embeddings.Gateway, captioner Captioner, store *vectordb.Store, eventLog *events.Store, chunkSize, chunkOverlap int) *Worker {
	return &Worker{
		root:         root,
		vcache:       vcache,
		gateway:      gateway,
		captioner:    captioner,
		store:        store,
		eventLog:     eventLog,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// run processes the session's documents sequentially. The embedder
// service is the bottleneck, so there is one in-flight document at a
// time; pause and cancel are observed between documents.
func (w *Worker) run(ctx context.Context, sess *Session) {
	sess.setStatus(StatusRunning)
	sess.emit(EventProgress)

	for {
		sess.mu.Lock()
		idx := sess.currentIndex
		total := len(sess.documentPaths)
		sess.mu.Unlock()
		if idx >= total {
			break
		}

		if !sess.gate() {
			sess.setStatus(StatusCancelled)
			sess.emit(EventCancelled)
			w.logTerminal(ctx, sess, "cancelled")
			sess.closeSubscribers()
			return
		}

		rel := sess.documentPaths[idx]
		err := w.processDocument(ctx, sess, rel)

		sess.mu.Lock()
		sess.currentIndex++
		if err != nil {
			sess.failed = append(sess.failed, rel)
			sess.errors = append(sess.errors, fmt.Sprintf("%s: %v", rel, err))
		} else {
			sess.embedded = append(sess.embedded, rel)
		}
		sess.mu.Unlock()
		sess.emit(EventProgress)

		// A dead embedder fails the whole session; per-document errors
		// do not.
		if errors.Is(err, embeddings.ErrBackendUnavailable) {
			sess.setStatus(StatusFailed)
			sess.emit(EventFailed)
			w.logTerminal(ctx, sess, "failed")
			sess.closeSubscribers()
			return
		}
	}

	sess.setStatus(StatusCompleted)
	sess.emit(EventComplete)
	w.logTerminal(ctx, sess, "complete")
	sess.closeSubscribers()
}

// processDocument embeds one document into the session's workspace.
// Insertion happens per document and is the commit boundary; a
// cancelled session never leaves a partial document in the collection.
func (w *Worker) processDocument(ctx context.Context, sess *Session, rel string) error {
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	raw, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	var doc docs.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	docID := uuid.New().String()

	if !sess.forceReEmbed {
		if records, ok, err := w.vcache.Lookup(full); err == nil && ok {
			for i := range records {
				records[i].ID = uuid.New().String()
				records[i].DocID = docID
				if records[i].Metadata != nil {
					records[i].Metadata["docId"] = docID
				}
			}
			log.Printf("embedjob: %s served from vector cache (%d vectors)", rel, len(records))
			return w.store.AddDocument(ctx, sess.workspaceID, docID, records)
		} else if err != nil {
			log.Printf("embedjob: vector cache read for %s failed: %v", rel, err)
		}
	}

	var records []vectordb.VectorRecord
	if doc.FileType == docs.FileTypeImage || doc.ImageBase64 != "" {
		records, err = w.embedImage(ctx, &doc, rel, docID)
	} else {
		records, err = w.embedText(ctx, &doc, rel, docID)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("document produced no vectors")
	}

	if err := w.vcache.Store(full, records); err != nil {
		log.Printf("embedjob: caching vectors for %s failed: %v", rel, err)
	}
	return w.store.AddDocument(ctx, sess.workspaceID, docID, records)
}

func (w *Worker) embedText(ctx context.Context, doc *docs.Document, rel, docID string) ([]vectordb.VectorRecord, error) {
	header := fmt.Sprintf("sourceDocument: %s\npublished: %s", doc.Title, doc.Published)
	chunks := embeddings.ChunkText(doc.PageContent, embeddings.ChunkOptions{
		Size:    w.chunkSize,
		Overlap: w.chunkOverlap,
		Header:  header,
	})
	if len(chunks) == 0 {
		return nil, errors.New("no text to embed")
	}

	vecs, err := w.gateway.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	records := make([]vectordb.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		meta := w.baseMetadata(doc, rel, docID)
		records[i] = vectordb.VectorRecord{
			ID:       uuid.New().String(),
			Vector:   vecs[i],
			Text:     chunk,
			DocID:    docID,
			Metadata: meta,
		}
	}
	return records, nil
}

// embedImage prefers the multimodal path: caption the image and embed
// the pixels with the caption as the rich prompt. When multimodal is
// unavailable or fails, the image is represented by its filename and
// caption embedded as two text chunks.
func (w *Worker) embedImage(ctx context.Context, doc *docs.Document, rel, docID string) ([]vectordb.VectorRecord, error) {
	caption := w.caption(ctx, doc)

	if w.gateway.HasMultimodal() {
		vec, err := w.gateway.Multimodal().EmbedImage(ctx, doc.ImageBase64, caption)
		if err == nil {
			meta := w.baseMetadata(doc, rel, docID)
			meta["embeddingMode"] = docs.EmbeddingModeMultimodalDirect
			return []vectordb.VectorRecord{{
				ID:       uuid.New().String(),
				Vector:   vec,
				Text:     caption,
				DocID:    docID,
				Metadata: meta,
			}}, nil
		}
		log.Printf("embedjob: multimodal embed for %s failed, falling back to text: %v", rel, err)
	}

	chunks := []string{doc.Title, caption}
	vecs, err := w.gateway.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding image fallback chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	records := make([]vectordb.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		meta := w.baseMetadata(doc, rel, docID)
		meta["embeddingMode"] = docs.EmbeddingModeTextFallback
		records[i] = vectordb.VectorRecord{
			ID:       uuid.New().String(),
			Vector:   vecs[i],
			Text:     chunk,
			DocID:    docID,
			Metadata: meta,
		}
	}
	return records, nil
}

// caption asks the vision endpoint for a description, substituting the
// document's own description when vision is missing or fails.
func (w *Worker) caption(ctx context.Context, doc *docs.Document) string {
	if w.captioner == nil || doc.ImageBase64 == "" {
		return doc.Description
	}
	caption, err := w.captioner.Describe(ctx, doc.ImageBase64)
	if err != nil {
		log.Printf("embedjob: caption for %s failed, using stored description: %v", doc.Title, err)
		return doc.Description
	}
	return caption
}

// baseMetadata flattens document fields for the vector store. Empty
// strings are omitted entirely; historical records with empty
// chunkSource broke the columnar encoder, and image uploads repair it
// to "image-upload".
func (w *Worker) baseMetadata(doc *docs.Document, rel, docID string) map[string]string {
	chunkSource := doc.ChunkSource
	if chunkSource == "" && (doc.FileType == docs.FileTypeImage || doc.ImageBase64 != "") {
		chunkSource = "image-upload"
	}

	meta := map[string]string{
		"docId":                docID,
		"sourceIdentifier":     rel,
		"url":                  doc.URL,
		"title":                doc.Title,
		"docAuthor":            doc.DocAuthor,
		"description":          doc.Description,
		"docSource":            doc.DocSource,
		"chunkSource":          chunkSource,
		"published":            doc.Published,
		"wordCount":            strconv.Itoa(doc.WordCount),
		"token_count_estimate": strconv.Itoa(doc.TokenCountEstimate),
		"fileType":             string(doc.FileType),
		"imageBase64":          doc.ImageBase64,
		"blurHash":             doc.BlurHash,
		"camera":               doc.Camera,
		"lens":                 doc.Lens,
		"location":             doc.Location,
		"cameraSettings":       doc.CameraSettings,
	}
	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}
	return meta
}

func (w *Worker) logTerminal(ctx context.Context, sess *Session, event string) {
	if w.eventLog == nil {
		return
	}
	snap := sess.Snapshot()
	detail, _ := json.Marshal(map[string]any{
		"workspaceId": snap.WorkspaceID,
		"embedded":    len(snap.Embedded),
		"failed":      len(snap.Failed),
	})
	if err := w.eventLog.Log(ctx, events.Entry{
		SessionID:   sess.id,
		SessionType: events.SessionEmbedding,
		Event:       event,
		Detail:      string(detail),
	}); err != nil {
		log.Printf("embedjob: event log write failed: %v", err)
	}
}
