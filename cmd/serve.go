package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zphilip/anything-llm-nas/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nasvec HTTP server",
	Long:  `Starts the REST/SSE/WebSocket server exposing resync sessions, embedding sessions, semantic search, and the folder picker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		srv := server.New(server.Deps{
			Config:    a.cfg,
			Meta:      a.meta,
			Bus:       a.bus,
			VCache:    a.vcache,
			Vectors:   a.vectors,
			Gateway:   a.gateway,
			ResyncMgr: a.resyncMgr,
			EmbedMgr:  a.embedMgr,
			Collector: a.collector,
			Router:    a.router,
			Events:    a.events,
			Settings:  a.settings,
			Reranker:  a.reranker,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
