// Package vectorcache stores previously computed embeddings on disk so
// re-ingesting an unchanged document never re-embeds it. Entries are
// addressed by a UUIDv5 of the document's full path; the key is
// path-stable, not content-stable, so a renamed file re-embeds.
package vectorcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

// Cache is a content-addressed vector cache rooted at a single directory.
type Cache struct {
	dir string
}

// New creates a Cache at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache key for a document path: uuid_v5(URL namespace, path).
func Key(fullFilePath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fullFilePath)).String()
}

func (c *Cache) entryPath(fullFilePath string) string {
	return filepath.Join(c.dir, Key(fullFilePath)+".json")
}

// Exists reports whether a cache entry exists for the given document path.
func (c *Cache) Exists(fullFilePath string) bool {
	_, err := os.Stat(c.entryPath(fullFilePath))
	return err == nil
}

// Lookup returns the cached vector records for the document, or
// (nil, false) when no entry exists.
func (c *Cache) Lookup(fullFilePath string) ([]vectordb.VectorRecord, bool, error) {
	data, err := os.ReadFile(c.entryPath(fullFilePath))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading vector cache entry: %w", err)
	}

	var records []vectordb.VectorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("decoding vector cache entry for %s: %w", filepath.Base(fullFilePath), err)
	}
	return records, true, nil
}

// Store writes the vector records computed for the document. An existing
// entry is replaced.
func (c *Cache) Store(fullFilePath string, records []vectordb.VectorRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding vector cache entry: %w", err)
	}

	tmp := c.entryPath(fullFilePath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing vector cache entry: %w", err)
	}
	if err := os.Rename(tmp, c.entryPath(fullFilePath)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing vector cache entry: %w", err)
	}
	return nil
}

// Purge removes the cache entry for the given document path, if any.
func (c *Cache) Purge(fullFilePath string) error {
	err := os.Remove(c.entryPath(fullFilePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("purging vector cache entry: %w", err)
	}
	return nil
}

// PurgeAll removes every cache entry.
func (c *Cache) PurgeAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("listing vector cache: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("purging %s: %w", e.Name(), err)
		}
	}
	return nil
}

// HasCachedFiles reports whether the cache holds at least one entry.
func (c *Cache) HasCachedFiles() bool {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			return true
		}
	}
	return false
}
