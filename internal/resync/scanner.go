package resync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zphilip/anything-llm-nas/internal/db"
	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/metastore"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
)

// customDocumentsFolder is always scanned and reported first.
const customDocumentsFolder = "custom-documents"

// largeFileBytes splits the batch into the small and large pools so
// large-file I/O does not starve small-file throughput.
const largeFileBytes = 150 << 20

// slowestKept is how many slow-file records a session retains.
const slowestKept = 5

// watchablePrefixes are chunk sources that a watcher can refresh.
var watchablePrefixes = []string{
	"link://", "youtube://", "confluence://", "github://", "gitlab://",
}

// Scanner rebuilds per-folder metadata indexes from the documents root.
type Scanner struct {
	root   string
	store  *metastore.Store
	vcache *vectorcache.Cache
	pins   *db.PinStore

	smallConcurrency int
	largeConcurrency int
	slowMs           int64
}

// NewScanner creates a Scanner over the documents root.
func NewScanner(root string, store *metastore.Store, vcache *vectorcache.Cache, pins *db.PinStore, smallConcurrency, largeConcurrency int, slowMs int64) *Scanner {
	if smallConcurrency < 1 {
		smallConcurrency = 1
	}
	if largeConcurrency < 1 {
		largeConcurrency = 1
	}
	return &Scanner{
		root:             root,
		store:            store,
		vcache:           vcache,
		pins:             pins,
		smallConcurrency: smallConcurrency,
		largeConcurrency: largeConcurrency,
		slowMs:           slowMs,
	}
}

// run executes a full scan for the session. It owns all session
// mutation and emits a terminal event before returning.
func (s *Scanner) run(ctx context.Context, sess *Session) {
	folders, counts, err := s.enumerate(sess.folderFilter)
	if err != nil {
		sess.recordError(err.Error())
		sess.setStatus(StatusFailed)
		sess.emit(EventFailed)
		sess.closeSubscribers()
		return
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	sess.mu.Lock()
	sess.totalFiles = total
	sess.totalBatches = (total + sess.batchSize - 1) / sess.batchSize
	sess.status = StatusRunning
	sess.mu.Unlock()
	sess.emit(EventProgress)

	for _, folder := range folders {
		sess.mu.Lock()
		done := sess.completedFolders[folder]
		sess.mu.Unlock()
		if done {
			continue
		}

		if !s.scanFolder(ctx, sess, folder) {
			sess.setStatus(StatusCancelled)
			sess.emit(EventCancelled)
			sess.closeSubscribers()
			return
		}

		sess.mu.Lock()
		sess.completedFolders[folder] = true
		sess.currentFolderProgress = 0
		sess.mu.Unlock()
	}

	sess.setStatus(StatusCompleted)
	sess.emit(EventComplete)
	sess.closeSubscribers()
}

// enumerate lists folders under the root (custom-documents hoisted to
// the front) with their JSON file counts.
func (s *Scanner) enumerate(filter string) ([]string, map[string]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("reading documents root: %w", err)
	}

	var folders []string
	counts := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if filter != "" {
			if ok, err := doublestar.Match(filter, name); err != nil || !ok {
				continue
			}
		}
		files, err := s.listJSON(name)
		if err != nil {
			log.Printf("resync: listing %s: %v", name, err)
			continue
		}
		folders = append(folders, name)
		counts[name] = len(files)
	}

	sort.SliceStable(folders, func(a, b int) bool {
		if folders[a] == customDocumentsFolder {
			return true
		}
		if folders[b] == customDocumentsFolder {
			return false
		}
		return folders[a] < folders[b]
	})
	return folders, counts, nil
}

func (s *Scanner) listJSON(folder string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, folder))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

// scanFolder processes one folder in batches. It returns false when the
// session was cancelled at a batch boundary.
func (s *Scanner) scanFolder(ctx context.Context, sess *Session, folder string) bool {
	sess.mu.Lock()
	sess.currentFolder = folder
	start := sess.currentFolderProgress
	batchSize := sess.batchSize
	force := sess.forceRefresh
	sess.mu.Unlock()

	files, err := s.listJSON(folder)
	if err != nil {
		sess.recordError(fmt.Sprintf("%s: %v", folder, err))
		return true
	}

	// Resuming reuses the items already persisted for this folder;
	// dedup is by item name.
	idx, err := s.store.GetFolder(ctx, folder)
	if err != nil || idx == nil || force {
		idx = &docs.FolderIndex{Name: folder, Type: "folder"}
	}
	seen := make(map[string]bool, len(idx.Items))
	for _, item := range idx.Items {
		seen[item.Name] = true
	}

	for off := start; off < len(files); off += batchSize {
		if !sess.gate() {
			return false
		}

		end := off + batchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[off:end]

		batchStart := time.Now()
		items, fileErrs := s.processBatch(ctx, sess, folder, batch, seen)
		for _, e := range fileErrs {
			sess.recordError(e)
		}

		s.attachFlags(ctx, sess, folder, items)
		for _, item := range items {
			idx.UpsertItem(item)
			seen[item.Name] = true
		}

		if err := s.store.SaveFolder(ctx, folder, idx); err != nil {
			sess.recordError(fmt.Sprintf("%s: persisting index: %v", folder, err))
		}

		sess.mu.Lock()
		sess.filesProcessed += len(batch)
		sess.currentBatch++
		sess.currentFolderProgress = end
		sess.mu.Unlock()

		log.Printf("resync: %s batch %d (%d files) in %s", folder, (off/batchSize)+1, len(batch), time.Since(batchStart).Round(time.Millisecond))
		sess.emit(EventBatchComplete)
		sess.emit(EventProgress)
	}

	// Items whose files no longer exist on disk are dropped from the
	// index, so a rescan converges both cache tiers onto the current
	// directory contents.
	present := make(map[string]bool, len(files))
	for _, name := range files {
		present[name] = true
	}
	kept := make([]docs.FileMetadata, 0, len(idx.Items))
	for _, item := range idx.Items {
		if present[item.Name] {
			kept = append(kept, item)
		}
	}
	if removed := len(idx.Items) - len(kept); removed > 0 {
		idx.Items = kept
		if err := s.store.SaveFolder(ctx, folder, idx); err != nil {
			sess.recordError(fmt.Sprintf("%s: persisting index: %v", folder, err))
		}
		log.Printf("resync: %s: dropped %d deleted files from the index", folder, removed)
	}
	return true
}

// processBatch reads a batch of files with the two bounded pools and
// returns the metadata items that passed validation.
func (s *Scanner) processBatch(ctx context.Context, sess *Session, folder string, batch []string, seen map[string]bool) ([]docs.FileMetadata, []string) {
	sess.mu.Lock()
	force := sess.forceRefresh
	sess.mu.Unlock()

	type job struct {
		name string
		size int64
	}
	var small, large []job
	var items []docs.FileMetadata
	var errs []string
	var mu sync.Mutex

	for _, name := range batch {
		if !force && seen[name] {
			sess.mu.Lock()
			sess.metrics.CacheHits++
			sess.mu.Unlock()
			continue
		}
		info, err := os.Stat(filepath.Join(s.root, folder, name))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s/%s: stat: %v", folder, name, err))
			continue
		}
		j := job{name: name, size: info.Size()}
		if j.size >= largeFileBytes {
			large = append(large, j)
		} else {
			small = append(small, j)
		}
	}

	process := func(j job) {
		item, err := s.processFile(sess, folder, j.name)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err.Error())
			return
		}
		if item != nil {
			items = append(items, *item)
		}
	}

	var smallGroup, largeGroup errgroup.Group
	smallGroup.SetLimit(s.smallConcurrency)
	largeGroup.SetLimit(s.largeConcurrency)
	for _, j := range small {
		j := j
		smallGroup.Go(func() error { process(j); return nil })
	}
	for _, j := range large {
		j := j
		largeGroup.Go(func() error { process(j); return nil })
	}
	smallGroup.Wait()
	largeGroup.Wait()

	// Restore enumeration order after the parallel reads.
	order := make(map[string]int, len(batch))
	for i, name := range batch {
		order[name] = i
	}
	sort.SliceStable(items, func(a, b int) bool {
		return order[items[a].Name] < order[items[b].Name]
	})
	return items, errs
}

// processFile reads and validates one document's metadata, timing each
// phase so slow files are identifiable.
func (s *Scanner) processFile(sess *Session, folder, name string) (*docs.FileMetadata, error) {
	path := filepath.Join(s.root, folder, name)
	started := time.Now()

	raw, err := os.ReadFile(path)
	readDone := time.Now()
	if err != nil {
		return nil, fmt.Errorf("%s/%s: read: %w", folder, name, err)
	}

	var doc docs.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s/%s: parse: %w", folder, name, err)
	}
	parseDone := time.Now()

	meta := doc.Metadata(name)
	meta.Cached = s.vcache.Exists(path)
	meta.CanWatch = canWatch(meta.ChunkSource)
	flagsDone := time.Now()

	totalMs := flagsDone.Sub(started).Milliseconds()
	sess.mu.Lock()
	n := float64(sess.metrics.CacheMisses)
	sess.metrics.AvgProcessingMs = (sess.metrics.AvgProcessingMs*n + float64(totalMs)) / (n + 1)
	sess.metrics.CacheMisses++
	if totalMs > s.slowMs {
		sess.metrics.SlowestFiles = append(sess.metrics.SlowestFiles, SlowFile{Path: folder + "/" + name, Millis: totalMs})
		sort.Slice(sess.metrics.SlowestFiles, func(a, b int) bool {
			return sess.metrics.SlowestFiles[a].Millis > sess.metrics.SlowestFiles[b].Millis
		})
		if len(sess.metrics.SlowestFiles) > slowestKept {
			sess.metrics.SlowestFiles = sess.metrics.SlowestFiles[:slowestKept]
		}
	}
	sess.mu.Unlock()

	if totalMs > s.slowMs {
		log.Printf("resync: slow file %s/%s: read=%dms parse=%dms flags=%dms",
			folder, name,
			readDone.Sub(started).Milliseconds(),
			parseDone.Sub(readDone).Milliseconds(),
			flagsDone.Sub(parseDone).Milliseconds())
	}

	if !meta.HasRequiredFields() {
		// Incomplete records never reach the picker.
		return nil, nil
	}
	return &meta, nil
}

// attachFlags resolves pinned and watched flags for a batch with one
// query.
func (s *Scanner) attachFlags(ctx context.Context, sess *Session, folder string, items []docs.FileMetadata) {
	if len(items) == 0 || s.pins == nil {
		return
	}
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	flags, err := s.pins.FlagsForFiles(ctx, folder, names)
	if err != nil {
		sess.recordError(fmt.Sprintf("%s: pin flags: %v", folder, err))
		return
	}
	for i := range items {
		f := flags[items[i].Name]
		items[i].PinnedWorkspaces = f.PinnedWorkspaces
		if items[i].PinnedWorkspaces == nil {
			items[i].PinnedWorkspaces = []string{}
		}
		items[i].Watched = f.Watched
	}
}

func canWatch(chunkSource string) bool {
	for _, prefix := range watchablePrefixes {
		if strings.HasPrefix(chunkSource, prefix) {
			return true
		}
	}
	return false
}
