package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AnTengye/contractplaybook/backend/analysis"
	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/extract"
	"github.com/AnTengye/contractplaybook/backend/handler"
	"github.com/AnTengye/contractplaybook/backend/llm"
	"github.com/AnTengye/contractplaybook/backend/middleware"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/pkg/metrics"
	"github.com/AnTengye/contractplaybook/backend/render"
	"github.com/AnTengye/contractplaybook/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// openStorage builds the artifact store. The MinIO store is also returned
// on its own since the MinerU extractor presigns URLs through it.
func openStorage(ctx context.Context, cfg *config.Config) (service.ArtifactStore, *service.MinioStore, error) {
	if cfg.Storage.Backend != "minio" {
		store, err := service.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		slog.Info("using local artifact storage", "dir", cfg.Storage.LocalDir)
		return store, nil, nil
	}

	minioStore, err := service.NewMinioStore(&cfg.Storage.Minio)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize MINIO service: %w", err)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure MINIO bucket: %w", err)
	}
	slog.Info("using minio artifact storage", "endpoint", cfg.Storage.Minio.Endpoint, "bucket", cfg.Storage.Minio.Bucket)
	return minioStore, minioStore, nil
}

func newExtractor(cfg *config.Config, minioStore *service.MinioStore) extract.Extractor {
	if cfg.Extractor.Mode == "mineru" {
		return extract.NewMineruExtractor(&cfg.Extractor.Mineru, minioStore, slog.Default())
	}
	return extract.NewLocalExtractor()
}

func newAnalyzer(cfg *config.Config, m *metrics.Metrics) (*analysis.Orchestrator, error) {
	client, err := llm.New(&cfg.LLM, llm.WithLogger(slog.Default()), llm.WithRecorder(m))
	if err != nil {
		return nil, err
	}
	return analysis.NewOrchestrator(analysis.OrchestratorOptions{
		Client:      client,
		Analysis:    cfg.Analysis,
		CallTimeout: cfg.LLM.CallTimeout,
		Logger:      slog.Default(),
		Recorder:    m,
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	artifacts, minioStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	orchestrator, err := newAnalyzer(cfg, m)
	if err != nil {
		return err
	}
	if !cfg.LLMConfigured() {
		slog.Warn("llm provider not configured, submissions will be refused", "provider", cfg.LLM.Provider)
	}

	// The eviction hook needs the service, which needs the store
	var svc *service.PlaybookService
	store := service.NewJobStore(service.JobStoreOptions{
		MaxJobs: cfg.Store.MaxJobs,
		Logger:  slog.Default(),
		OnEvict: func(job model.Job) {
			svc.RemoveArtifacts(job)
		},
	})
	svc, err = service.NewPlaybookService(service.PlaybookServiceOptions{
		Store:     store,
		Artifacts: artifacts,
		Extractor: newExtractor(cfg, minioStore),
		Analyzer:  orchestrator,
		Renderer:  render.NewExcelRenderer(),
		Upload:    cfg.Upload,
		Logger:    slog.Default(),
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	reaper, err := service.NewReaper(service.ReaperOptions{
		Jobs:      svc,
		Interval:  cfg.Store.ReapInterval,
		Retention: cfg.Store.Retention,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	reapCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go reaper.Run(reapCtx)

	router := newRouter(cfg, svc, m)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stopReaper()
	svc.Wait()

	slog.Info("server exited gracefully")
	return nil
}

func newRouter(cfg *config.Config, svc *service.PlaybookService, m *metrics.Metrics) *gin.Engine {
	authHandler := handler.NewAuthHandler(cfg)
	playbookHandler := handler.NewPlaybookHandler(svc, cfg.LLMConfigured())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"timestamp":      time.Now().Format(time.RFC3339),
			"llm_configured": cfg.LLMConfigured(),
			"llm_provider":   cfg.LLM.Provider,
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/playbooks", playbookHandler.Upload)
		protected.POST("/playbooks/text", playbookHandler.SubmitText)
		protected.GET("/playbooks", playbookHandler.List)
		protected.GET("/playbooks/:id/status", playbookHandler.GetStatus)
		protected.GET("/playbooks/:id/result", playbookHandler.GetResult)
		protected.GET("/playbooks/:id/analysis", playbookHandler.GetAnalysis)
		protected.GET("/playbooks/:id/download", playbookHandler.Download)
		protected.DELETE("/playbooks/:id", playbookHandler.Delete)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cacheMiddleware keeps API responses, polled status in particular, out of caches
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
