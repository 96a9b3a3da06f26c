package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/xxxsen/legisrag/internal/config"
	"github.com/xxxsen/legisrag/internal/handler"
	"github.com/xxxsen/legisrag/internal/job"
	"github.com/xxxsen/legisrag/internal/middleware"
	"github.com/xxxsen/legisrag/internal/schedule"
	"github.com/xxxsen/legisrag/internal/service"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "legisrag",
		Short:        "legislative document ingestion and retrieval",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	loadConfig := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "serve the HTTP API and run scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(cmd.Context()).Info("migrations applied")
			return nil
		},
	}

	var ingestLimit int
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest one batch of pending scrapes and print the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			run, err := a.batch.RunBatch(ctx, ingestLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "max scrapes to ingest (0 uses ingest.batch_limit)")

	var (
		topK     int
		sourceID string
	)
	retrieveCmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "print the chunks most relevant to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			results, err := a.retrieval.Retrieve(cmd.Context(), service.RetrieveRequest{
				Query:  args[0],
				TopK:   topK,
				Filter: vectorstore.Filter{SourceID: sourceID},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	retrieveCmd.Flags().IntVar(&topK, "top-k", service.DefaultTopK, "number of results")
	retrieveCmd.Flags().StringVar(&sourceID, "source", "", "only chunks from this source id")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "run every configured discovery query once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.discovery == nil {
				return errors.New("discovery is disabled in config")
			}
			run, err := a.discovery.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}

	rootCmd.AddCommand(runCmd, migrateCmd, ingestCmd, retrieveCmd, discoverCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewIngestPendingJob(a.batch, cfg.Ingest.BatchLimit), cfg.Schedule.Ingest); err != nil {
		return fmt.Errorf("schedule ingest: %w", err)
	}
	if !cfg.Embedding.DisableDBCache {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Embedding.CacheMaxDays), cfg.Schedule.CacheCleanup); err != nil {
			return fmt.Errorf("schedule cache cleanup: %w", err)
		}
	}
	if a.discovery != nil {
		if err := scheduler.AddJob(job.NewDiscoveryJob(a.discovery), cfg.Schedule.Discovery); err != nil {
			return fmt.Errorf("schedule discovery: %w", err)
		}
	}

	deps := handler.RouterDeps{
		Scrapes:          handler.NewScrapeHandler(a.scrapes, cfg.API.MaxScrapeBytes),
		Retrieval:        handler.NewRetrievalHandler(a.retrieval),
		Stats:            handler.NewStatsHandler(a.stats),
		Runs:             handler.NewRunHandler(a.batch),
		RunStartInterval: time.Duration(cfg.API.RunStartInterval) * time.Second,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.API.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
