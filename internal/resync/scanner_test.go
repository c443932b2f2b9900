package resync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/zphilip/anything-llm-nas/internal/db"
	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/metastore"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
)

type scanFixture struct {
	root    string
	store   *metastore.Store
	vcache  *vectorcache.Cache
	pins    *db.PinStore
	manager *Manager
}

func setupScan(t *testing.T) *scanFixture {
	t.Helper()
	root := t.TempDir()

	store, err := metastore.New(nil, t.TempDir())
	if err != nil {
		t.Fatalf("metastore.New: %v", err)
	}
	vcache, err := vectorcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("vectorcache.New: %v", err)
	}
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	pins := db.NewPinStore(database)

	scanner := NewScanner(root, store, vcache, pins, 4, 1, 2000)
	return &scanFixture{
		root:    root,
		store:   store,
		vcache:  vcache,
		pins:    pins,
		manager: NewManager(scanner),
	}
}

func (f *scanFixture) writeDoc(t *testing.T, folder, name string, complete bool) {
	t.Helper()
	doc := docs.Document{
		ID:          "id-" + name,
		URL:         "file://documents/" + folder + "/" + name,
		Title:       name,
		DocAuthor:   "Unknown",
		Description: "a document",
		DocSource:   "localfile",
		ChunkSource: "localfile://" + name,
		Published:   "2026-01-02T15:04:05Z",
		WordCount:   10,
		PageContent: "body",
	}
	if !complete {
		doc.Title = ""
	}

	dir := filepath.Join(f.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", folder, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func runScan(t *testing.T, f *scanFixture, opts Options) Snapshot {
	t.Helper()
	sess := f.manager.Start(context.Background(), opts)
	waitFor(t, "scan to finish", func() bool {
		return sess.Snapshot().Status.Terminal()
	})
	return sess.Snapshot()
}

func TestScanBuildsFolderIndexes(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "custom-documents", "a.json", true)
	f.writeDoc(t, "custom-documents", "b.json", true)
	f.writeDoc(t, "photos", "c.json", true)

	snap := runScan(t, f, Options{BatchSize: 10})
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}
	if snap.TotalFiles != 3 || snap.FilesProcessed != 3 {
		t.Errorf("total/processed = %d/%d, want 3/3", snap.TotalFiles, snap.FilesProcessed)
	}
	if len(snap.CompletedFolders) != 2 {
		t.Errorf("CompletedFolders = %v, want both folders", snap.CompletedFolders)
	}

	idx, err := f.store.GetFolder(context.Background(), "custom-documents")
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if idx == nil || len(idx.Items) != 2 {
		t.Fatalf("custom-documents index: %+v", idx)
	}
	for _, item := range idx.Items {
		if item.PinnedWorkspaces == nil {
			t.Errorf("%s: PinnedWorkspaces must be non-nil for the picker", item.Name)
		}
	}
}

func TestScanDropsIncompleteRecords(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "good.json", true)
	f.writeDoc(t, "photos", "incomplete.json", false)

	snap := runScan(t, f, Options{BatchSize: 10})
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q", snap.Status)
	}
	// Incomplete files are still counted as processed, just not indexed.
	if snap.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", snap.FilesProcessed)
	}

	idx, _ := f.store.GetFolder(context.Background(), "photos")
	if idx == nil || len(idx.Items) != 1 || idx.Items[0].Name != "good.json" {
		t.Errorf("incomplete record should be dropped, index = %+v", idx)
	}
}

func TestScanFolderFilter(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)
	f.writeDoc(t, "notes", "b.json", true)

	snap := runScan(t, f, Options{BatchSize: 10, FolderFilter: "photos"})
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want 1 (filtered)", snap.TotalFiles)
	}

	if idx, _ := f.store.GetFolder(context.Background(), "notes"); idx != nil {
		t.Errorf("filtered-out folder should not be indexed: %+v", idx)
	}
}

func TestScanSecondPassHitsCache(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)
	f.writeDoc(t, "photos", "b.json", true)

	first := runScan(t, f, Options{BatchSize: 10})
	if first.Metrics.CacheMisses != 2 {
		t.Errorf("first scan misses = %d, want 2", first.Metrics.CacheMisses)
	}

	second := runScan(t, f, Options{BatchSize: 10})
	if second.Metrics.CacheHits != 2 {
		t.Errorf("second scan hits = %d, want 2", second.Metrics.CacheHits)
	}
	if second.Metrics.CacheMisses != 0 {
		t.Errorf("second scan misses = %d, want 0", second.Metrics.CacheMisses)
	}
}

func TestScanPrunesDeletedFiles(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "keep.json", true)
	f.writeDoc(t, "photos", "gone.json", true)

	runScan(t, f, Options{BatchSize: 10})
	if err := os.Remove(filepath.Join(f.root, "photos", "gone.json")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	snap := runScan(t, f, Options{BatchSize: 10})
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Errors)
	}

	idx, err := f.store.GetFolder(context.Background(), "photos")
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if idx == nil || len(idx.Items) != 1 || idx.Items[0].Name != "keep.json" {
		t.Errorf("deleted file should leave the index without force, got %+v", idx)
	}
}

func TestScanPrunesEmptiedFolder(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "only.json", true)

	runScan(t, f, Options{BatchSize: 10})
	if err := os.Remove(filepath.Join(f.root, "photos", "only.json")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	runScan(t, f, Options{BatchSize: 10})
	idx, _ := f.store.GetFolder(context.Background(), "photos")
	if idx != nil && len(idx.Items) != 0 {
		t.Errorf("emptied folder should have no index items, got %+v", idx.Items)
	}
}

func TestScanForceRefreshReprocesses(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)

	runScan(t, f, Options{BatchSize: 10})
	forced := runScan(t, f, Options{BatchSize: 10, ForceRefresh: true})
	if forced.Metrics.CacheMisses != 1 {
		t.Errorf("forced scan misses = %d, want 1", forced.Metrics.CacheMisses)
	}
	if forced.Metrics.CacheHits != 0 {
		t.Errorf("forced scan hits = %d, want 0", forced.Metrics.CacheHits)
	}
}

func TestScanAttachesPinFlags(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)
	if err := f.pins.Pin(context.Background(), "ws-1", "photos", "a.json"); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	snap := runScan(t, f, Options{BatchSize: 10})
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q", snap.Status)
	}

	idx, _ := f.store.GetFolder(context.Background(), "photos")
	if idx == nil || len(idx.Items) != 1 {
		t.Fatalf("index: %+v", idx)
	}
	if got := idx.Items[0].PinnedWorkspaces; len(got) != 1 || got[0] != "ws-1" {
		t.Errorf("PinnedWorkspaces = %v, want [ws-1]", got)
	}
}

func TestScanMarksCachedFiles(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)
	f.writeDoc(t, "photos", "b.json", true)
	if err := f.vcache.Store(filepath.Join(f.root, "photos", "a.json"), nil); err != nil {
		t.Fatalf("vcache.Store: %v", err)
	}

	runScan(t, f, Options{BatchSize: 10})

	idx, _ := f.store.GetFolder(context.Background(), "photos")
	for _, item := range idx.Items {
		want := item.Name == "a.json"
		if item.Cached != want {
			t.Errorf("%s: Cached = %v, want %v", item.Name, item.Cached, want)
		}
	}
}

func TestEnumerateHoistsCustomDocuments(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "aaa", "a.json", true)
	f.writeDoc(t, "custom-documents", "b.json", true)
	f.writeDoc(t, "zzz", "c.json", true)

	folders, counts, err := f.manager.scanner.enumerate("")
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(folders) != 3 || folders[0] != customDocumentsFolder {
		t.Errorf("folders = %v, want custom-documents first", folders)
	}
	if counts["custom-documents"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestEnumerateSortsRemainingFoldersByName(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "zebra", "a.json", true)
	f.writeDoc(t, "custom-documents", "b.json", true)
	f.writeDoc(t, "alpha", "c.json", true)
	f.writeDoc(t, "mango", "d.json", true)

	folders, _, err := f.manager.scanner.enumerate("")
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	want := []string{"custom-documents", "alpha", "mango", "zebra"}
	if len(folders) != len(want) {
		t.Fatalf("folders = %v, want %v", folders, want)
	}
	for i := range want {
		if folders[i] != want[i] {
			t.Errorf("folders[%d] = %q, want %q", i, folders[i], want[i])
		}
	}
}

func TestCanWatch(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"link://https://example.com", true},
		{"youtube://abc", true},
		{"confluence://page", true},
		{"localfile://a.txt", false},
		{"image-upload", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := canWatch(tc.src); got != tc.want {
			t.Errorf("canWatch(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestManagerGetUnknownSession(t *testing.T) {
	f := setupScan(t)
	if _, err := f.manager.Get("nope"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerSessionsListsSnapshots(t *testing.T) {
	f := setupScan(t)
	f.writeDoc(t, "photos", "a.json", true)

	sess := f.manager.Start(context.Background(), Options{BatchSize: 10})
	waitFor(t, "scan to finish", func() bool {
		return sess.Snapshot().Status.Terminal()
	})

	snaps := f.manager.Sessions()
	if len(snaps) != 1 || snaps[0].SessionID != sess.ID() {
		t.Errorf("Sessions = %+v", snaps)
	}
}
