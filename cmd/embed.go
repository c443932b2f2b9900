package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zphilip/anything-llm-nas/internal/embedjob"
	"github.com/zphilip/anything-llm-nas/internal/progress"
)

var (
	embedWorkspace string
	embedFolder    string
	embedForce     bool
)

var embedCmd = &cobra.Command{
	Use:   "embed [document paths...]",
	Short: "Embed documents into a workspace's vector collection",
	Long: `Runs an embedding session for the given workspace. Document paths are
relative to the documents root (folder/file.json); with --folder, every
document in that folder is embedded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		docPaths := args
		if embedFolder != "" {
			folderPaths, err := listFolderDocuments(a.cfg.DocumentsDir(), embedFolder)
			if err != nil {
				return err
			}
			docPaths = append(docPaths, folderPaths...)
		}

		sess, err := a.embedMgr.Start(ctx, embedWorkspace, embedWorkspace, docPaths, embedForce)
		if err != nil {
			return err
		}
		ch, unsubscribe := sess.Subscribe()
		defer unsubscribe()

		reporter := progress.NewReporter("Embedding documents")
		reporter.Start(len(docPaths))
		var final embedjob.Snapshot
		for ev := range ch {
			final = ev.Session
			msg := ""
			if ev.Session.CurrentIndex < len(ev.Session.DocumentPaths) {
				msg = filepath.Base(ev.Session.DocumentPaths[ev.Session.CurrentIndex])
			}
			reporter.Update(ev.Session.CurrentIndex, msg)
		}
		reporter.Finish()

		fmt.Printf("embed %s: %d embedded, %d failed\n", final.Status, len(final.Embedded), len(final.Failed))
		if verbose {
			for _, e := range final.Errors {
				fmt.Println("  -", e)
			}
		}
		if final.Status == embedjob.StatusFailed {
			return fmt.Errorf("embedding session failed")
		}
		return nil
	},
}

// listFolderDocuments returns folder-relative paths of every document
// record in a folder.
func listFolderDocuments(root, folder string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, folder))
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folder, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, folder+"/"+e.Name())
		}
	}
	return out, nil
}

func init() {
	embedCmd.Flags().StringVarP(&embedWorkspace, "workspace", "w", "", "workspace to embed into (required)")
	embedCmd.Flags().StringVar(&embedFolder, "folder", "", "embed every document in this folder")
	embedCmd.Flags().BoolVar(&embedForce, "force", false, "re-embed even when cached vectors exist")
	embedCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(embedCmd)
}
