package vectordb

import (
	"context"
	"testing"

	"github.com/zphilip/anything-llm-nas/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := New(t.TempDir(), db.NewDocVectorStore(database))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

// unit returns a 4-dimensional unit vector with a single 1 at idx.
func unit(idx int) []float32 {
	v := make([]float32, 4)
	v[idx] = 1
	return v
}

func records(docID string, idxs ...int) []VectorRecord {
	recs := make([]VectorRecord, len(idxs))
	for i, idx := range idxs {
		recs[i] = VectorRecord{
			ID:     docID + "-" + string(rune('a'+i)),
			Vector: unit(idx),
			Text:   "chunk " + string(rune('a'+i)),
			DocID:  docID,
			Metadata: map[string]string{
				"docId":            docID,
				"sourceIdentifier": "src-" + docID,
			},
		}
	}
	return recs
}

func TestAddDocumentAndCounts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if store.HasNamespace("Photos") {
		t.Fatal("fresh store should have no namespaces")
	}

	if err := store.AddDocument(ctx, "Photos", "doc-1", records("doc-1", 0, 1)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := store.AddDocument(ctx, "photos", "doc-2", records("doc-2", 2)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	// Namespace lookups are case-insensitive.
	if !store.HasNamespace("PHOTOS") {
		t.Error("expected namespace to exist regardless of case")
	}
	if got := store.NamespaceCount("photos"); got != 3 {
		t.Errorf("NamespaceCount = %d, want 3", got)
	}
	if got := store.TotalVectors(); got != 3 {
		t.Errorf("TotalVectors = %d, want 3", got)
	}

	names := store.Namespaces()
	if len(names) != 1 || names[0] != "photos" {
		t.Errorf("Namespaces = %v, want [photos]", names)
	}
}

func TestAddDocumentEmptyRecordsNoop(t *testing.T) {
	store := setupStore(t)
	if err := store.AddDocument(context.Background(), "photos", "doc-1", nil); err != nil {
		t.Fatalf("AddDocument with no records: %v", err)
	}
	if store.HasNamespace("photos") {
		t.Error("empty insert must not create the namespace")
	}
}

func TestDeleteDocument(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.AddDocument(ctx, "photos", "doc-1", records("doc-1", 0, 1)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := store.AddDocument(ctx, "photos", "doc-2", records("doc-2", 2)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := store.DeleteDocument(ctx, "photos", "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if got := store.NamespaceCount("photos"); got != 1 {
		t.Errorf("NamespaceCount after delete = %d, want 1", got)
	}

	// Deleting an unknown doc is a no-op.
	if err := store.DeleteDocument(ctx, "photos", "doc-unknown"); err != nil {
		t.Errorf("DeleteDocument of unknown doc: %v", err)
	}
}

func TestDeleteDocumentAll(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.AddDocument(ctx, "photos", "doc-1", records("doc-1", 0, 1)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := store.AddDocument(ctx, "notes", "doc-1", records("doc-1", 2)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := store.AddDocument(ctx, "photos", "doc-2", records("doc-2", 3)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := store.DeleteDocumentAll(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocumentAll: %v", err)
	}
	if got := store.NamespaceCount("photos"); got != 1 {
		t.Errorf("photos count = %d, want only doc-2's vector", got)
	}
	if got := store.NamespaceCount("notes"); got != 0 {
		t.Errorf("notes count = %d, want 0", got)
	}

	// Unknown documents have no bridge rows; nothing to do.
	if err := store.DeleteDocumentAll(ctx, "doc-unknown"); err != nil {
		t.Errorf("DeleteDocumentAll of unknown doc: %v", err)
	}
}

func TestDeleteNamespace(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.AddDocument(ctx, "photos", "doc-1", records("doc-1", 0)); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := store.DeleteNamespace(ctx, "photos"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if store.HasNamespace("photos") {
		t.Error("namespace should be gone")
	}
	if got := store.NamespaceCount("photos"); got != 0 {
		t.Errorf("NamespaceCount = %d, want 0", got)
	}
}

func TestReset(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, ns := range []string{"a", "b"} {
		if err := store.AddDocument(ctx, ns, "doc-1", records("doc-1", 0)); err != nil {
			t.Fatalf("AddDocument %s: %v", ns, err)
		}
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := store.TotalVectors(); got != 0 {
		t.Errorf("TotalVectors after reset = %d, want 0", got)
	}
	if len(store.Namespaces()) != 0 {
		t.Errorf("Namespaces after reset = %v, want none", store.Namespaces())
	}
}
