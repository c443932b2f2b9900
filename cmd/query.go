package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

var (
	queryNamespaces []string
	queryMetric     string
	queryLimit      int
	queryThreshold  float32
)

var queryCmd = &cobra.Command{
	Use:   "query <search text>",
	Short: "Run a semantic search against workspace collections",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		search := strings.Join(args, " ")
		namespaces := queryNamespaces
		if len(namespaces) == 0 {
			namespaces = a.vectors.Namespaces()
		}
		if len(namespaces) == 0 {
			return fmt.Errorf("no workspace collections exist yet; run embed first")
		}

		var metric vectordb.DistanceMetric
		switch queryMetric {
		case "cosine":
			metric = vectordb.MetricCosine
		case "l2":
			metric = vectordb.MetricL2
		case "dot":
			metric = vectordb.MetricDot
		default:
			return fmt.Errorf("unknown metric %q (cosine, l2, dot)", queryMetric)
		}

		vec, _, err := a.gateway.EmbedQuery(ctx, search, a.cfg.Embedding.Dimensions)
		if err != nil {
			return err
		}

		for _, ns := range namespaces {
			resp, err := a.vectors.Search(ctx, ns, vec, vectordb.SearchOptions{
				TopN:      queryLimit,
				Metric:    metric,
				Threshold: queryThreshold,
			})
			if err != nil {
				return err
			}
			if len(resp.Sources) == 0 {
				continue
			}
			fmt.Printf("── %s ──\n", ns)
			for i, src := range resp.Sources {
				title := src.Metadata["title"]
				fmt.Printf("%2d. [%.4f %s] %s\n", i+1, src.Score, vectordb.QualityBucket(src.Score), title)
				if verbose {
					text := src.Text
					if len(text) > 200 {
						text = text[:200] + "..."
					}
					fmt.Printf("    %s\n", strings.ReplaceAll(text, "\n", " "))
				}
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringSliceVarP(&queryNamespaces, "namespace", "n", nil, "workspace namespaces to search (default all)")
	queryCmd.Flags().StringVar(&queryMetric, "metric", "cosine", "distance metric: cosine, l2, dot")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 5, "max results per namespace")
	queryCmd.Flags().Float32Var(&queryThreshold, "threshold", 0, "similarity floor (or distance ceiling for l2)")
	rootCmd.AddCommand(queryCmd)
}
