// Package cmd holds the nasvec command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nasvec",
	Short: "Multimodal document indexing and semantic search for NAS storage",
	Long: `nasvec ingests documents and images from a storage directory, embeds
them with local text and multimodal embedders, and serves semantic
search over per-workspace vector collections. Folder metadata is kept
coherent across Redis and disk so scans are cheap and resumable.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".nasvec.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
