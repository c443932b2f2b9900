// Package vectordb wraps the embedded vector database with
// per-workspace namespaces, distance-metric shims, and the bridge table
// that maps documents to their vector IDs.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/zphilip/anything-llm-nas/internal/db"
)

// ErrDimensionMismatch reports a query vector whose length differs from
// the collection it is searched against.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// addConcurrency bounds parallel inserts into one collection.
const addConcurrency = 4

// Store is the workspace-scoped vector database. Each workspace gets
// its own collection, created lazily on first insert.
type Store struct {
	db         *chromem.DB
	docVectors *db.DocVectorStore

	mu sync.Mutex
}

// New opens (or creates) the persistent vector database under dir.
func New(dir string, docVectors *db.DocVectorStore) (*Store, error) {
	cdb, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector db: %w", err)
	}
	return &Store{db: cdb, docVectors: docVectors}, nil
}

// normalizeNamespace maps workspace identifiers onto collection names.
// Lookups are case-insensitive.
func normalizeNamespace(ns string) string {
	return strings.ToLower(strings.TrimSpace(ns))
}

// precomputedOnly rejects any attempt to have the database embed text
// itself. Every vector in the store comes from the embedding gateway.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

func (s *Store) collection(ns string, create bool) (*chromem.Collection, error) {
	name := normalizeNamespace(ns)
	if name == "" {
		return nil, errors.New("empty namespace")
	}
	if col := s.db.GetCollection(name, precomputedOnly); col != nil {
		return col, nil
	}
	if !create {
		return nil, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	return col, nil
}

// AddDocument inserts a document's vector records into a workspace
// namespace and registers the document-to-vector bridge rows. A
// dimension conflict with existing collection contents drops and
// recreates the namespace, since it means the embedder changed and the
// old vectors are unusable anyway.
func (s *Store) AddDocument(ctx context.Context, namespace, docID string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(namespace, true)
	if err != nil {
		return err
	}

	chromDocs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		chromDocs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Metadata:  rec.Metadata,
			Embedding: rec.Vector,
		}
		ids[i] = rec.ID
	}

	if err := col.AddDocuments(ctx, chromDocs, addConcurrency); err != nil {
		if !isDimensionError(err) {
			return fmt.Errorf("adding to %s: %w", namespace, err)
		}
		log.Printf("vectordb: dimension conflict in %s, recreating collection", namespace)
		if err := s.dropLocked(ctx, namespace); err != nil {
			return err
		}
		col, err = s.collection(namespace, true)
		if err != nil {
			return err
		}
		if err := col.AddDocuments(ctx, chromDocs, addConcurrency); err != nil {
			return fmt.Errorf("adding to recreated %s: %w", namespace, err)
		}
	}

	if err := s.docVectors.Insert(ctx, normalizeNamespace(namespace), docID, ids); err != nil {
		return fmt.Errorf("recording vector ids for %s: %w", docID, err)
	}
	return nil
}

// DeleteDocument removes every vector belonging to docID from the
// namespace, using the bridge table to find them.
func (s *Store) DeleteDocument(ctx context.Context, namespace, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteDocumentLocked(ctx, namespace, docID)
}

// DeleteDocumentAll removes a document's vectors from every namespace
// the bridge table knows about.
func (s *Store) DeleteDocumentAll(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespaces, err := s.docVectors.NamespacesForDoc(ctx, docID)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		if err := s.deleteDocumentLocked(ctx, ns, docID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteDocumentLocked(ctx context.Context, namespace, docID string) error {
	ids, err := s.docVectors.DeleteByDoc(ctx, normalizeNamespace(namespace), docID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	col, err := s.collection(namespace, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting vectors for %s: %w", docID, err)
	}
	return nil
}

// DeleteNamespace drops a workspace collection and its bridge rows.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(ctx, namespace)
}

func (s *Store) dropLocked(ctx context.Context, namespace string) error {
	name := normalizeNamespace(namespace)
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}
	if err := s.docVectors.DeleteNamespace(ctx, name); err != nil {
		return fmt.Errorf("dropping vector ids for %s: %w", name, err)
	}
	return nil
}

// HasNamespace reports whether the workspace has a collection.
func (s *Store) HasNamespace(namespace string) bool {
	col := s.db.GetCollection(normalizeNamespace(namespace), precomputedOnly)
	return col != nil
}

// NamespaceCount returns the number of vectors in a workspace, zero if
// the namespace does not exist.
func (s *Store) NamespaceCount(namespace string) int {
	col := s.db.GetCollection(normalizeNamespace(namespace), precomputedOnly)
	if col == nil {
		return 0
	}
	return col.Count()
}

// TotalVectors sums vector counts across all namespaces.
func (s *Store) TotalVectors() int {
	total := 0
	for name := range s.db.ListCollections() {
		if col := s.db.GetCollection(name, precomputedOnly); col != nil {
			total += col.Count()
		}
	}
	return total
}

// Reset drops every namespace and its bridge rows.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.db.ListCollections() {
		if err := s.dropLocked(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Namespaces lists the existing collection names.
func (s *Store) Namespaces() []string {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names
}

func isDimensionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "dimension") || strings.Contains(msg, "same length")
}
