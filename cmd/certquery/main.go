package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/ai"
	"github.com/xxxsen/certquery/internal/blobstore"
	"github.com/xxxsen/certquery/internal/cachestore"
	"github.com/xxxsen/certquery/internal/config"
	"github.com/xxxsen/certquery/internal/db"
	"github.com/xxxsen/certquery/internal/drs"
	"github.com/xxxsen/certquery/internal/ecfr"
	"github.com/xxxsen/certquery/internal/embedcache"
	"github.com/xxxsen/certquery/internal/handler"
	"github.com/xxxsen/certquery/internal/job"
	"github.com/xxxsen/certquery/internal/repo"
	"github.com/xxxsen/certquery/internal/schedule"
	"github.com/xxxsen/certquery/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "certquery",
		Short: "retrieval backed QA service for FAA certification documents",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start the certquery server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			lc := cfg.LogConfig
			logger.Init(lc.File, lc.Level, int(lc.FileCount), int(lc.FileSize), int(lc.KeepDays), lc.Console)
			return runServer(cfg)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logutil.GetLogger(ctx)

	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer dbConn.Close()
	if err := db.ApplyMigrations(dbConn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	store, err := blobstore.New(cfg.DocCache.Type, cfg.DocCache.Data)
	if err != nil {
		log.Warn("doc cache init failed, falling back to in-memory store, cached documents will not survive restarts",
			zap.String("type", cfg.DocCache.Type), zap.Error(err))
		store = blobstore.NewMemory()
	}
	cache := cachestore.New(store)

	generator := buildGenerator(ctx, cfg.AI.Chat)
	embedder := buildEmbedder(ctx, cfg.AI.Embed, cfg.AI.EmbedCacheSize)
	if generator == nil {
		log.Warn("no chat provider configured, answers are disabled")
	}
	if embedder == nil {
		log.Warn("no embed provider configured, vector search falls back to keyword search")
	}

	ecfrClient := ecfr.NewClient(cfg.ECFR.BaseURL, nil)
	drsClient := drs.New(cfg.DRS.BaseURL, cfg.DRS.APIKey, cfg.DRS.TimeoutSeconds, cache, cfg.DocCache.TTLHours)

	chunkRepo := repo.NewChunkRepo(dbConn)
	queueRepo := repo.NewQueueRepo(dbConn)

	chunker := service.NewChunker(generator, cfg.Chunking.TargetSize, cfg.Chunking.MinSize,
		cfg.Chunking.MaxChunks, cfg.Chunking.AnalysisLimit)
	index := service.NewSearchIndex(chunkRepo, embedder, chunker, cfg.Search.TopK)
	queueSvc := service.NewQueueService(queueRepo, index, drsClient,
		cfg.Queue.Batch, cfg.Queue.VisibilitySeconds, cfg.Queue.MaxDequeue, cfg.Queue.MaxDocumentChars)
	conversations := service.NewConversationStore(cache, cfg.Conversation.TTLDays, cfg.Conversation.MaxTurns)
	evaluator := service.NewEvaluator(cfg.Search.MinScore)
	classifier := service.NewClassifier(generator)
	rag := service.NewRAGService(index, evaluator, classifier, ecfrClient, drsClient,
		queueSvc, conversations, generator, cfg.Conversation.ContextTurns)
	reindexSvc := service.NewReindexService(index, drsClient, queueSvc)

	sched := schedule.NewCronScheduler()
	if err := sched.AddJob(job.NewIndexQueueJob(queueSvc), cfg.Queue.PollSpec); err != nil {
		return fmt.Errorf("schedule queue job: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	deps := handler.RouterDeps{
		Ask:             handler.NewAskHandler(rag),
		Health:          handler.NewHealthHandler(index, queueSvc, generator != nil),
		Reindex:         handler.NewReindexHandler(reindexSvc),
		RateLimitWindow: time.Duration(cfg.RateLimitMS) * time.Millisecond,
		CORSAllow:       cfg.CORSAllow,
	}
	engine, err := webapi.NewEngine("/api", fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(gzip.Gzip(gzip.DefaultCompression)),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	go func() {
		log.Info("server started", zap.Int("port", cfg.Port))
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func buildGenerator(ctx context.Context, providers []config.ProviderConfig) ai.IGenerator {
	var entries []ai.GeneratorEntry
	for _, pc := range providers {
		p, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip chat provider",
				zap.String("provider", pc.Provider), zap.Error(err))
			continue
		}
		entries = append(entries, ai.GeneratorEntry{Name: pc.Provider, Generator: ai.NewGenerator(p, pc.Model)})
	}
	return ai.NewGroupGenerator(entries)
}

func buildEmbedder(ctx context.Context, providers []config.ProviderConfig, cacheSize int) ai.IEmbedder {
	var entries []ai.EmbedderEntry
	for _, pc := range providers {
		p, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip embed provider",
				zap.String("provider", pc.Provider), zap.Error(err))
			continue
		}
		entries = append(entries, ai.EmbedderEntry{Name: pc.Provider, Embedder: ai.NewEmbedder(p, pc.Model)})
	}
	group := ai.NewGroupEmbedder(entries)
	if group == nil {
		return nil
	}
	return embedcache.WrapLruCacheToEmbedder(group, cacheSize, 2*time.Hour)
}
