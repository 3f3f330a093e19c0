package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalinski-dev/materio/internal/bus"
	"github.com/mkalinski-dev/materio/internal/config"
	"github.com/mkalinski-dev/materio/internal/core"
	db "github.com/mkalinski-dev/materio/internal/core/database"
	"github.com/mkalinski-dev/materio/internal/core/llm"
	objectclient "github.com/mkalinski-dev/materio/internal/core/object-client"
	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/extractor"
	"github.com/mkalinski-dev/materio/internal/mivaa"
	"github.com/mkalinski-dev/materio/internal/pipeline"
	"github.com/mkalinski-dev/materio/internal/queue"
	"github.com/mkalinski-dev/materio/internal/scheduler"
	"github.com/mkalinski-dev/materio/internal/services"
	"github.com/mkalinski-dev/materio/internal/upload"
	"github.com/mkalinski-dev/materio/internal/workflow"
)

// App owns every long-lived component and tears them down in order.
type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient core.ObjectClient
	Orchestrator *workflow.Orchestrator
	Uploads      *upload.Service
	Imports      *services.ImportService
	Scheduler    *scheduler.Scheduler
	Server       *Server

	bridge   *bus.Bridge
	embedder *llm.GeminiEmbedder
	titler   *llm.GeminiLLM
	logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	titler, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, "")
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}

	gateway := mivaa.NewClient(cfg.GatewayURL, cfg.GatewayKey, logger.With("component", "mivaa"))

	chunkCfg := pipeline.ChunkConfig{
		MaxChunkSize:   cfg.MaxChunkSize,
		OverlapSize:    cfg.OverlapSize,
		SplitSentences: true,
	}

	jobQueue := queue.NewSimpleQueue(logger.With("component", "queue"))
	emitter := events.NewEmitter(logger.With("component", "events"))

	orch := workflow.NewOrchestrator(
		workflow.Config{
			Chunking: core.ChunkStrategy{
				Type:         "hybrid",
				MaxChunkSize: cfg.MaxChunkSize,
				OverlapSize:  cfg.OverlapSize,
			},
			Transform: core.TransformConfig{
				MaxChunkSize: cfg.MaxChunkSize,
				OverlapSize:  cfg.OverlapSize,
			},
			StageTimeout: cfg.StageTimeout,
		},
		jobQueue,
		emitter,
		services.NewChunkingService(logger.With("component", "chunking")),
		geminiEmbedder,
		gateway,
		services.NewTransformerService(logger.With("component", "transformer")),
		dbClient,
		nil,
		logger.With("component", "workflow"),
	)

	localExtractor := extractor.NewDocconvExtractor(false, logger.With("component", "extractor"))
	documents := services.NewDocumentService(dbClient, objClient, cfg.BucketName)

	uploads := upload.NewService(
		upload.Config{ChunkConfig: chunkCfg},
		dbClient, documents, gateway, localExtractor, geminiEmbedder, dbClient,
		logger.With("component", "upload"),
	)

	imports := services.NewImportService(dbClient, gateway, orch, titler, logger.With("component", "imports"))
	sched := scheduler.New(dbClient, imports, logger.With("component", "scheduler"))

	var bridge *bus.Bridge
	if cfg.NatsURL != "" {
		bridge, err = bus.Connect(cfg.NatsURL, logger.With("component", "bus"))
		if err != nil {
			return nil, err
		}
		bridge.Attach(emitter)
	}

	server := NewServer(cfg, dbClient, documents, orch, uploads, imports, sched, geminiEmbedder, logger)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Orchestrator: orch,
		Uploads:      uploads,
		Imports:      imports,
		Scheduler:    sched,
		Server:       server,
		bridge:       bridge,
		embedder:     geminiEmbedder,
		titler:       titler,
		logger:       logger,
	}, nil
}

// Start brings up the scheduler and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.Server.Start()
	return nil
}

func (a *App) Close() {
	a.Scheduler.Stop()
	a.Orchestrator.Shutdown()

	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.titler != nil {
		_ = a.titler.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
