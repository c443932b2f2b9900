package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zphilip/anything-llm-nas/internal/progress"
	"github.com/zphilip/anything-llm-nas/internal/resync"
)

var (
	resyncForce  bool
	resyncFilter string
	resyncBatch  int
)

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Rescan the documents folder and rebuild metadata caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sess := a.resyncMgr.Start(ctx, resync.Options{
			BatchSize:    resyncBatch,
			ForceRefresh: resyncForce,
			FolderFilter: resyncFilter,
		})
		ch, unsubscribe := sess.Subscribe()
		defer unsubscribe()

		reporter := progress.NewReporter("Scanning documents")
		started := false
		var final resync.Snapshot
		for ev := range ch {
			final = ev.Session
			if !started && ev.Session.TotalFiles > 0 {
				reporter.Start(ev.Session.TotalFiles)
				started = true
			}
			if started {
				reporter.Update(ev.Session.FilesProcessed, ev.Session.CurrentFolder)
			}
		}
		if started {
			reporter.Finish()
		}

		fmt.Printf("resync %s: %d/%d files, %d folders, %d errors (cache hits %d, misses %d)\n",
			final.Status, final.FilesProcessed, final.TotalFiles,
			len(final.CompletedFolders), len(final.Errors),
			final.Metrics.CacheHits, final.Metrics.CacheMisses)
		for _, e := range final.Errors {
			if verbose {
				fmt.Println("  -", e)
			}
		}
		if final.Status == resync.StatusFailed {
			return fmt.Errorf("resync failed")
		}
		return nil
	},
}

func init() {
	resyncCmd.Flags().BoolVar(&resyncForce, "force", false, "ignore cached folder indexes and re-read every file")
	resyncCmd.Flags().StringVar(&resyncFilter, "filter", "", "glob filter for folder names")
	resyncCmd.Flags().IntVar(&resyncBatch, "batch-size", 0, "files per batch (default from config)")
	rootCmd.AddCommand(resyncCmd)
}
