package ingest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"
)

// perFileTimeout is how long each file in a batch may take before the
// whole batch deadline math gives up on it.
const perFileTimeout = 180 * time.Second

// FileResult reports the outcome of one file in a batch.
type FileResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	DocID   string `json:"docId,omitempty"`
}

// Collector runs batched ingestion with a bounded worker pool.
type Collector struct {
	router      *Router
	concurrency int
}

// NewCollector creates a Collector. concurrency bounds in-flight files;
// values below one fall back to a single worker.
func NewCollector(router *Router, concurrency int) *Collector {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{router: router, concurrency: concurrency}
}

// IngestBatch processes a set of files into folder concurrently. The
// batch gets a deadline proportional to its size, and every file yields
// a FileResult whether it succeeded or not.
func (c *Collector) IngestBatch(ctx context.Context, folder string, srcPaths []string) []FileResult {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(len(srcPaths))*perFileTimeout)
	defer cancel()

	results := make([]FileResult, len(srcPaths))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, src := range srcPaths {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			name := filepath.Base(src)
			if err := ctx.Err(); err != nil {
				results[i] = FileResult{Name: name, Reason: fmt.Sprintf("batch deadline: %v", err)}
				return
			}

			doc, err := c.router.Ingest(ctx, src, name, folder)
			if err != nil {
				log.Printf("ingest: %s: %v", name, err)
				results[i] = FileResult{Name: name, Reason: err.Error()}
				return
			}
			results[i] = FileResult{Name: name, Success: true, DocID: doc.ID}
		}(i, src)
	}
	wg.Wait()
	return results
}
