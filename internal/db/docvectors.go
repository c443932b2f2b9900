package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DocVector is one bridge row linking a document to a vector record in
// a workspace collection. It is what lets "remove document X from
// workspace W" translate into a targeted collection delete.
type DocVector struct {
	ID        string
	DocID     string
	VectorID  string
	Namespace string
}

// DocVectorStore provides CRUD operations for document-vector rows.
type DocVectorStore struct {
	db *DB
}

// NewDocVectorStore creates a DocVectorStore backed by the given database.
func NewDocVectorStore(database *DB) *DocVectorStore {
	return &DocVectorStore{db: database}
}

// Insert adds bridge rows for every vector of a document.
func (s *DocVectorStore) Insert(ctx context.Context, namespace, docID string, vectorIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document_vectors tx: %w", err)
	}
	defer tx.Rollback()

	for _, vid := range vectorIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_vectors (id, doc_id, vector_id, namespace) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), docID, vid, namespace,
		)
		if err != nil {
			return fmt.Errorf("inserting document_vectors row: %w", err)
		}
	}
	return tx.Commit()
}

// VectorIDs returns the vector ids recorded for a document, across all
// namespaces unless namespace is non-empty.
func (s *DocVectorStore) VectorIDs(ctx context.Context, namespace, docID string) ([]string, error) {
	query := `SELECT vector_id FROM document_vectors WHERE doc_id = ?`
	args := []any{docID}
	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying document_vectors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NamespacesForDoc lists the distinct namespaces holding vectors for a
// document.
func (s *DocVectorStore) NamespacesForDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM document_vectors WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying document namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// DeleteByDoc removes the bridge rows for a document in a namespace and
// returns the vector ids that were bridged.
func (s *DocVectorStore) DeleteByDoc(ctx context.Context, namespace, docID string) ([]string, error) {
	ids, err := s.VectorIDs(ctx, namespace, docID)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM document_vectors WHERE doc_id = ? AND namespace = ?`, docID, namespace)
	if err != nil {
		return nil, fmt.Errorf("deleting document_vectors rows: %w", err)
	}
	return ids, nil
}

// DeleteNamespace removes every bridge row for a namespace.
func (s *DocVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM document_vectors WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("deleting namespace rows: %w", err)
	}
	return nil
}
