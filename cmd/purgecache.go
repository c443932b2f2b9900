package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var purgeVectors bool

var purgeCacheCmd = &cobra.Command{
	Use:   "purge-cache",
	Short: "Delete cached embeddings (and optionally all vector collections)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.vcache.PurgeAll(); err != nil {
			return err
		}
		fmt.Println("vector cache purged")

		if purgeVectors {
			if err := a.vectors.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("vector collections dropped")
		}
		return nil
	},
}

func init() {
	purgeCacheCmd.Flags().BoolVar(&purgeVectors, "vectors", false, "also drop every workspace vector collection")
	rootCmd.AddCommand(purgeCacheCmd)
}
