package embedjob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zphilip/anything-llm-nas/internal/db"
	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/embeddings"
	"github.com/zphilip/anything-llm-nas/internal/events"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

// fakeEmbedder counts calls and can fail or block on demand.
type fakeEmbedder struct {
	calls   atomic.Int32
	err     error
	blockCh chan struct{} // when set, every call waits for one receive
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeCaptioner struct {
	caption string
	err     error
	calls   atomic.Int32
}

func (f *fakeCaptioner) Describe(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.caption, f.err
}

type jobFixture struct {
	root     string
	vcache   *vectorcache.Cache
	store    *vectordb.Store
	eventLog *events.Store
	embedder *fakeEmbedder
}

func setupJob(t *testing.T, captioner Captioner, multimodal *embeddings.MultimodalEmbedder) (*jobFixture, *Manager) {
	t.Helper()
	root := t.TempDir()

	vcache, err := vectorcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("vectorcache.New: %v", err)
	}
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := vectordb.New(t.TempDir(), db.NewDocVectorStore(database))
	if err != nil {
		t.Fatalf("vectordb.New: %v", err)
	}

	fx := &jobFixture{
		root:     root,
		vcache:   vcache,
		store:    store,
		eventLog: events.NewStore(database),
		embedder: &fakeEmbedder{},
	}
	gateway := embeddings.NewGateway(fx.embedder, multimodal)
	worker := NewWorker(root, vcache, gateway, captioner, store, fx.eventLog, 500, 20)
	return fx, NewManager(worker)
}

func (f *jobFixture) writeDoc(t *testing.T, rel string, doc docs.Document) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func textDoc(title, content string) docs.Document {
	return docs.Document{
		ID:          "src-" + title,
		URL:         "file://documents/notes/" + title,
		Title:       title,
		DocAuthor:   "Unknown",
		Description: "a note",
		DocSource:   "localfile",
		ChunkSource: "localfile://" + title,
		Published:   "2026-01-02T15:04:05Z",
		WordCount:   len(content),
		PageContent: content,
		FileType:    docs.FileTypeText,
	}
}

func imageDoc(title string) docs.Document {
	return docs.Document{
		ID:            "src-" + title,
		URL:           "file://documents/photos/" + title,
		Title:         title,
		DocAuthor:     "Unknown",
		Description:   "stored description of " + title,
		DocSource:     "image file uploaded by the user",
		ChunkSource:   "image-upload",
		Published:     "2026-01-02T15:04:05Z",
		WordCount:     4,
		PageContent:   "aW1hZ2U=",
		FileType:      docs.FileTypeImage,
		EmbeddingMode: docs.EmbeddingModeServerDecided,
		ImageBase64:   "aW1hZ2U=",
	}
}

func waitTerminal(t *testing.T, sess *Session) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := sess.Snapshot()
		if snap.Status.Terminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never finished, status %q", snap.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmbedTextDocument(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "some meaningful body text"))

	sess, err := mgr.Start(context.Background(), "ws-1", "Workspace One", []string{"notes/a.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}
	if len(snap.Embedded) != 1 || snap.Embedded[0] != "notes/a.json" {
		t.Errorf("Embedded = %v", snap.Embedded)
	}
	if got := fx.store.NamespaceCount("ws-1"); got < 1 {
		t.Errorf("NamespaceCount = %d, want at least 1", got)
	}

	// Vectors are cached for the next session.
	if !fx.vcache.Exists(filepath.Join(fx.root, "notes", "a.json")) {
		t.Error("vector cache entry missing after embed")
	}

	// Terminal outcome lands in the event log.
	entries, err := fx.eventLog.Query(context.Background(), events.QueryFilter{SessionID: sess.ID()})
	if err != nil {
		t.Fatalf("event query: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "complete" {
		t.Errorf("event log entries = %+v", entries)
	}
}

func TestCacheHitSkipsEmbedder(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "text to embed"))
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "ws-1", "", []string{"notes/a.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, sess)
	callsAfterFirst := fx.embedder.calls.Load()
	if callsAfterFirst == 0 {
		t.Fatal("first session should call the embedder")
	}

	// A second workspace reuses the cached vectors without re-embedding.
	sess2, err := mgr.Start(ctx, "ws-2", "", []string{"notes/a.json"}, false)
	if err != nil {
		t.Fatalf("Start second: %v", err)
	}
	snap := waitTerminal(t, sess2)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}
	if fx.embedder.calls.Load() != callsAfterFirst {
		t.Errorf("cache hit should not call the embedder (calls %d -> %d)", callsAfterFirst, fx.embedder.calls.Load())
	}
	if got := fx.store.NamespaceCount("ws-2"); got < 1 {
		t.Errorf("ws-2 NamespaceCount = %d, want at least 1", got)
	}
}

func TestForceReEmbedBypassesCache(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "text to embed"))
	ctx := context.Background()

	sess, _ := mgr.Start(ctx, "ws-1", "", []string{"notes/a.json"}, false)
	waitTerminal(t, sess)
	callsAfterFirst := fx.embedder.calls.Load()

	sess2, err := mgr.Start(ctx, "ws-2", "", []string{"notes/a.json"}, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, sess2)
	if fx.embedder.calls.Load() == callsAfterFirst {
		t.Error("forceReEmbed should bypass the vector cache")
	}
}

func TestEmbedImageTextFallback(t *testing.T) {
	cap := &fakeCaptioner{caption: "A red bicycle leaning on a wall."}
	fx, mgr := setupJob(t, cap, nil)
	fx.writeDoc(t, "photos/bike.json", imageDoc("bike.jpg"))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"photos/bike.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}
	if cap.calls.Load() != 1 {
		t.Errorf("captioner calls = %d, want 1", cap.calls.Load())
	}

	// Filename and caption land as two text-fallback vectors.
	if got := fx.store.NamespaceCount("ws-1"); got != 2 {
		t.Errorf("NamespaceCount = %d, want 2", got)
	}

	resp, err := fx.store.Search(context.Background(), "ws-1", []float32{1, 0, 0, 0}, vectordb.SearchOptions{TopN: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, src := range resp.Sources {
		if src.Metadata["embeddingMode"] != docs.EmbeddingModeTextFallback {
			t.Errorf("embeddingMode = %q, want text_fallback", src.Metadata["embeddingMode"])
		}
		if src.Metadata["chunkSource"] != "image-upload" {
			t.Errorf("chunkSource = %q, want image-upload", src.Metadata["chunkSource"])
		}
	}
}

func TestEmbedImageMultimodalDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]float32{"embedding": {0, 1, 0, 0}})
	}))
	defer srv.Close()
	mm := embeddings.NewMultimodalEmbedder(srv.URL, "qwen-vl", 4, 0, embeddings.FormatPrompt)

	cap := &fakeCaptioner{caption: "A red bicycle."}
	fx, mgr := setupJob(t, cap, mm)
	fx.writeDoc(t, "photos/bike.json", imageDoc("bike.jpg"))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"photos/bike.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}

	// One pixel vector, not the two-chunk fallback.
	if got := fx.store.NamespaceCount("ws-1"); got != 1 {
		t.Errorf("NamespaceCount = %d, want 1", got)
	}
	resp, err := fx.store.Search(context.Background(), "ws-1", []float32{0, 1, 0, 0}, vectordb.SearchOptions{TopN: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	src := resp.Sources[0]
	if src.Metadata["embeddingMode"] != docs.EmbeddingModeMultimodalDirect {
		t.Errorf("embeddingMode = %q, want multimodal_direct", src.Metadata["embeddingMode"])
	}
	if src.Text != "A red bicycle." {
		t.Errorf("stored text = %q, want the caption", src.Text)
	}
}

func TestCaptionFallsBackToDescription(t *testing.T) {
	cap := &fakeCaptioner{err: errors.New("vision down")}
	fx, mgr := setupJob(t, cap, nil)
	fx.writeDoc(t, "photos/bike.json", imageDoc("bike.jpg"))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"photos/bike.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}

	resp, err := fx.store.Search(context.Background(), "ws-1", []float32{1, 0, 0, 0}, vectordb.SearchOptions{TopN: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, src := range resp.Sources {
		if src.Text == "stored description of bike.jpg" {
			found = true
		}
	}
	if !found {
		t.Error("stored description should be embedded when captioning fails")
	}
}

func TestPerDocumentErrorDoesNotFailSession(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.writeDoc(t, "notes/good.json", textDoc("good.json", "real content"))
	fx.writeDoc(t, "notes/empty.json", textDoc("empty.json", ""))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"notes/good.json", "notes/empty.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", snap.Status)
	}
	if len(snap.Embedded) != 1 || len(snap.Failed) != 1 {
		t.Errorf("embedded/failed = %v/%v", snap.Embedded, snap.Failed)
	}
	if snap.Failed[0] != "notes/empty.json" {
		t.Errorf("Failed = %v", snap.Failed)
	}
}

func TestBackendUnavailableFailsSession(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.embedder.err = embeddings.ErrBackendUnavailable
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "content"))
	fx.writeDoc(t, "notes/b.json", textDoc("b.json", "content"))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"notes/a.json", "notes/b.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, sess)

	if snap.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	// The session stops at the first document; the second is never tried.
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}

	entries, err := fx.eventLog.Query(context.Background(), events.QueryFilter{SessionID: sess.ID()})
	if err != nil {
		t.Fatalf("event query: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "failed" {
		t.Errorf("event log entries = %+v", entries)
	}
}

func TestSessionConflict(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.embedder.blockCh = make(chan struct{})
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "content"))
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "ws-1", "", []string{"notes/a.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first session is blocked inside the embedder.
	if _, err := mgr.Start(ctx, "ws-1", "", []string{"notes/a.json"}, false); !errors.Is(err, ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}

	// A different workspace is fine.
	fx.writeDoc(t, "notes/b.json", textDoc("b.json", "content"))
	other, err := mgr.Start(ctx, "ws-2", "", []string{"notes/b.json"}, false)
	if err != nil {
		t.Fatalf("Start other workspace: %v", err)
	}

	close(fx.embedder.blockCh)
	waitTerminal(t, sess)
	waitTerminal(t, other)

	// The finished workspace accepts a new session.
	again, err := mgr.Start(ctx, "ws-1", "", []string{"notes/a.json"}, false)
	if err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
	waitTerminal(t, again)
}

func TestCancelBetweenDocuments(t *testing.T) {
	fx, mgr := setupJob(t, nil, nil)
	fx.embedder.blockCh = make(chan struct{}, 16)
	fx.writeDoc(t, "notes/a.json", textDoc("a.json", "content"))
	fx.writeDoc(t, "notes/b.json", textDoc("b.json", "content"))

	sess, err := mgr.Start(context.Background(), "ws-1", "", []string{"notes/a.json", "notes/b.json"}, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Cancel()
	// Unblock any in-flight embed calls.
	for i := 0; i < 16; i++ {
		fx.embedder.blockCh <- struct{}{}
	}

	snap := waitTerminal(t, sess)
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", snap.Status)
	}
	if len(snap.Embedded)+len(snap.Failed) >= 2 {
		t.Errorf("cancel should stop before the last document, got %v/%v", snap.Embedded, snap.Failed)
	}
}

func TestStartValidation(t *testing.T) {
	_, mgr := setupJob(t, nil, nil)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "", "", []string{"a"}, false); err == nil {
		t.Error("expected error for empty workspace id")
	}
	if _, err := mgr.Start(ctx, "ws", "", nil, false); err == nil {
		t.Error("expected error for empty document list")
	}
	if _, err := mgr.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
