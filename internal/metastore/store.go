// Package metastore keeps per-folder file metadata in two tiers: a
// Redis key per folder and a disk JSON mirror. Redis unavailability
// degrades the store to disk-only; reads fall through and writes keep
// going to disk so the tiers converge on the next refresh.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/paths"
)

const (
	folderKeyPrefix   = "nasvec:folder:"
	fileMetaKeyPrefix = "nasvec:file:meta:"
	directoryKey      = "nasvec:directory"

	// Transient file metadata keys expire if the consumer never runs,
	// so a crashed consumer cannot leak them forever.
	fileMetaTTL = 15 * time.Minute
)

// Store is the two-tier folder metadata store.
type Store struct {
	rdb *redis.Client // nil when Redis is not configured
	dir string        // disk mirror: <storage>/cache/folders

	// memMeta holds transient file metadata when Redis is absent, so
	// the add/consume handoff still works in a single process.
	memMu   sync.Mutex
	memMeta map[string]docs.FileMetadata
}

// NewRedisClient connects to Redis at addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// New creates a Store. rdb may be nil for disk-only operation.
func New(rdb *redis.Client, cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating folder cache dir: %w", err)
	}
	return &Store{rdb: rdb, dir: cacheDir, memMeta: make(map[string]docs.FileMetadata)}, nil
}

// RedisAvailable reports whether the Redis tier is attached.
func (s *Store) RedisAvailable() bool { return s.rdb != nil }

func (s *Store) diskPath(folder string) (string, error) {
	name, err := paths.NormalizeName(folder)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// GetFolder returns the folder index, trying Redis first and falling
// back to the disk mirror. A Redis hit is synced back to disk so the
// tiers agree. Returns (nil, nil) when neither tier has the folder.
func (s *Store) GetFolder(ctx context.Context, folder string) (*docs.FolderIndex, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, folderKeyPrefix+folder).Result()
		switch {
		case err == nil:
			var idx docs.FolderIndex
			if jerr := json.Unmarshal([]byte(raw), &idx); jerr == nil {
				if derr := s.writeDisk(folder, &idx); derr != nil {
					log.Printf("metastore: disk sync for %s failed: %v", folder, derr)
				}
				return &idx, nil
			}
			log.Printf("metastore: corrupt redis index for %s, falling back to disk", folder)
		case err != redis.Nil:
			log.Printf("metastore: redis read for %s failed: %v (disk fallback)", folder, err)
		}
	}
	return s.readDisk(folder)
}

// SaveFolder persists the folder index to both tiers. Items are
// FileMetadata records, which structurally exclude pageContent and
// imageBase64, bounding Redis memory.
func (s *Store) SaveFolder(ctx context.Context, folder string, idx *docs.FolderIndex) error {
	if err := s.writeDisk(folder, idx); err != nil {
		return err
	}
	if s.rdb != nil {
		raw, err := json.Marshal(idx)
		if err != nil {
			return fmt.Errorf("encoding folder index %s: %w", folder, err)
		}
		if err := s.rdb.Set(ctx, folderKeyPrefix+folder, raw, 0).Err(); err != nil {
			// Disk already has the data; Redis catches up on the next save.
			log.Printf("metastore: redis write for %s failed: %v (disk-only)", folder, err)
		}
	}
	return nil
}

// DeleteFolder removes the folder index from both tiers.
func (s *Store) DeleteFolder(ctx context.Context, folder string) error {
	path, err := s.diskPath(folder)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing folder cache %s: %w", folder, err)
	}
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, folderKeyPrefix+folder).Err(); err != nil {
			log.Printf("metastore: redis delete for %s failed: %v", folder, err)
		}
	}
	return nil
}

// AddFileToFolder inserts or replaces (by name) a file entry in the
// folder index and persists both tiers. Creates the index when absent.
func (s *Store) AddFileToFolder(ctx context.Context, folder string, entry docs.FileMetadata) error {
	idx, err := s.GetFolder(ctx, folder)
	if err != nil {
		return err
	}
	if idx == nil {
		idx = &docs.FolderIndex{Name: folder, Type: "folder"}
	}
	idx.UpsertItem(entry)
	return s.SaveFolder(ctx, folder, idx)
}

// RemoveFileFromFolder deletes a file entry from the folder index.
// Removing from a missing folder or a missing entry is a no-op.
func (s *Store) RemoveFileFromFolder(ctx context.Context, folder, fileName string) error {
	idx, err := s.GetFolder(ctx, folder)
	if err != nil || idx == nil {
		return err
	}
	if !idx.RemoveItem(fileName) {
		return nil
	}
	return s.SaveFolder(ctx, folder, idx)
}

// SaveFileMetadata stores a transient per-file metadata record for the
// pub/sub handoff. It refuses to overwrite an existing key, which
// cheaply dedups bursty publishers; the consumer deletes the key after
// merging it.
func (s *Store) SaveFileMetadata(ctx context.Context, folder, file string, meta docs.FileMetadata) (bool, error) {
	if s.rdb == nil {
		key := fileMetaKey(folder, file)
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, exists := s.memMeta[key]; exists {
			return false, nil
		}
		s.memMeta[key] = meta
		return true, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("encoding file metadata: %w", err)
	}
	stored, err := s.rdb.SetNX(ctx, fileMetaKey(folder, file), raw, fileMetaTTL).Result()
	if err != nil {
		return false, fmt.Errorf("storing transient metadata for %s/%s: %w", folder, file, err)
	}
	return stored, nil
}

// GetFileMetadata loads a transient per-file metadata record.
func (s *Store) GetFileMetadata(ctx context.Context, folder, file string) (*docs.FileMetadata, error) {
	if s.rdb == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if meta, ok := s.memMeta[fileMetaKey(folder, file)]; ok {
			return &meta, nil
		}
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, fileMetaKey(folder, file)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading transient metadata for %s/%s: %w", folder, file, err)
	}
	var meta docs.FileMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decoding transient metadata for %s/%s: %w", folder, file, err)
	}
	return &meta, nil
}

// DeleteFileMetadata removes a transient per-file metadata record.
func (s *Store) DeleteFileMetadata(ctx context.Context, folder, file string) error {
	if s.rdb == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		delete(s.memMeta, fileMetaKey(folder, file))
		return nil
	}
	return s.rdb.Del(ctx, fileMetaKey(folder, file)).Err()
}

// SaveDirectory is the deprecated whole-tree aggregate dump. Writing
// the full tree under one key caused O(tree) memory spikes, so it is a
// no-op; the per-folder index is authoritative.
func (s *Store) SaveDirectory(ctx context.Context, _ any) error {
	return nil
}

func fileMetaKey(folder, file string) string {
	return fileMetaKeyPrefix + folder + ":" + file
}

func (s *Store) writeDisk(folder string, idx *docs.FolderIndex) error {
	path, err := s.diskPath(folder)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding folder index %s: %w", folder, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing folder cache %s: %w", folder, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing folder cache %s: %w", folder, err)
	}
	return nil
}

func (s *Store) readDisk(folder string) (*docs.FolderIndex, error) {
	path, err := s.diskPath(folder)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading folder cache %s: %w", folder, err)
	}
	var idx docs.FolderIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decoding folder cache %s: %w", folder, err)
	}
	return &idx, nil
}
