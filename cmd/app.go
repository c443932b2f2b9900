package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/zphilip/anything-llm-nas/internal/bus"
	"github.com/zphilip/anything-llm-nas/internal/config"
	"github.com/zphilip/anything-llm-nas/internal/db"
	"github.com/zphilip/anything-llm-nas/internal/embeddings"
	"github.com/zphilip/anything-llm-nas/internal/embedjob"
	"github.com/zphilip/anything-llm-nas/internal/events"
	"github.com/zphilip/anything-llm-nas/internal/ingest"
	"github.com/zphilip/anything-llm-nas/internal/ingest/images"
	"github.com/zphilip/anything-llm-nas/internal/metastore"
	"github.com/zphilip/anything-llm-nas/internal/paths"
	"github.com/zphilip/anything-llm-nas/internal/resync"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
	"github.com/zphilip/anything-llm-nas/internal/vectordb"
	"github.com/zphilip/anything-llm-nas/internal/vision"
)

// app is the wired dependency graph shared by the CLI commands.
type app struct {
	cfg       *config.Config
	database  *db.DB
	meta      *metastore.Store
	bus       *bus.Bus
	vcache    *vectorcache.Cache
	vectors   *vectordb.Store
	gateway   *embeddings.Gateway
	describer *vision.Describer // nil without a vision endpoint
	reranker  vectordb.Reranker // nil without a rerank endpoint
	resyncMgr *resync.Manager
	embedMgr  *embedjob.Manager
	collector *ingest.Collector
	router    *ingest.Router
	events    *events.Store
	settings  *db.SettingsStore
}

// buildApp loads config and constructs every subsystem. Redis being
// down degrades the metadata store to disk-only instead of failing.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DocumentsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating documents dir: %w", err)
	}

	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		database: database,
		events:   events.NewStore(database),
		settings: db.NewSettingsStore(database),
	}

	a.bus = bus.New()
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb, err := metastore.NewRedisClient(ctx, addr)
		if err != nil {
			log.Printf("redis unavailable, running disk-only: %v", err)
		} else {
			a.bus.AttachRedis(ctx, rdb, bus.ChannelFileMetadataUpdates)
			a.meta, err = metastore.New(rdb, cfg.FolderCacheDir())
			if err != nil {
				return nil, err
			}
		}
	}
	if a.meta == nil {
		if a.meta, err = metastore.New(nil, cfg.FolderCacheDir()); err != nil {
			return nil, err
		}
	}
	metastore.NewConsumer(a.bus, a.meta)

	if a.vcache, err = vectorcache.New(cfg.VectorCacheDir()); err != nil {
		return nil, err
	}

	docVectors := db.NewDocVectorStore(database)
	if a.vectors, err = vectordb.New(cfg.VectorDBDir(), docVectors); err != nil {
		return nil, err
	}

	text := embeddings.NewLlamaEmbedder(cfg.Embedding.BasePath, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	var multimodal *embeddings.MultimodalEmbedder
	if mm, err := a.settings.Multimodal(ctx); err != nil {
		log.Printf("reading multimodal settings: %v", err)
	} else if mm.Enabled() {
		dims := mm.Dimensions
		if dims == 0 {
			dims = cfg.Embedding.Dimensions
		}
		multimodal = embeddings.NewMultimodalEmbedder(mm.BasePath, mm.Model, dims, mm.MaxEdge, embeddings.FormatPrompt)
	}
	a.gateway = embeddings.NewGateway(text, multimodal)

	if cfg.Vision.BasePath != "" {
		if a.describer, err = vision.NewDescriber(cfg.Vision.BasePath, cfg.Vision.APIKey, cfg.Vision.Model); err != nil {
			return nil, fmt.Errorf("configuring vision describer: %w", err)
		}
	}

	if cfg.Rerank.BasePath != "" {
		a.reranker = vectordb.NewHTTPReranker(cfg.Rerank.BasePath, cfg.Rerank.Model)
	}

	pins := db.NewPinStore(database)
	scanner := resync.NewScanner(cfg.DocumentsDir(), a.meta, a.vcache, pins,
		cfg.ResyncConcurrency, cfg.ResyncLargeConcurrency, int64(cfg.ResyncSlowMs))
	a.resyncMgr = resync.NewManager(scanner)

	var captioner embedjob.Captioner
	if a.describer != nil {
		captioner = a.describer
	}
	worker := embedjob.NewWorker(cfg.DocumentsDir(), a.vcache, a.gateway, captioner,
		a.vectors, a.events, cfg.ChunkSize, cfg.ChunkOverlap)
	a.embedMgr = embedjob.NewManager(worker)

	resolver, err := paths.NewResolver(cfg.DocumentsDir())
	if err != nil {
		return nil, err
	}
	pipeline, err := images.NewPipeline(cfg.TrashDir())
	if err != nil {
		return nil, err
	}
	a.router = ingest.NewRouter(resolver, pipeline, a.meta, a.bus)
	a.collector = ingest.NewCollector(a.router, cfg.ConcurrentOperations)

	return a, nil
}

func (a *app) close() {
	a.bus.Close()
	if err := a.database.Close(); err != nil {
		log.Printf("closing database: %v", err)
	}
}
