package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"meridian/internal/config"
	"meridian/internal/domain/models/responses"
	domainresponses "meridian/internal/domain/services/responses"
	"meridian/internal/handler"
	"meridian/internal/middleware"
	"meridian/internal/modelregistry"
	"meridian/internal/repository/fsarchive"
	"meridian/internal/repository/pgarchive"
	"meridian/internal/repository/postgres"
	"meridian/internal/service/responses/conversation"
	"meridian/internal/service/responses/coordinator"
	"meridian/internal/service/responses/delegation"
	"meridian/internal/service/responses/history"
	"meridian/internal/service/responses/incident"
	"meridian/internal/service/responses/ops"
	"meridian/internal/service/responses/provider"
	"meridian/internal/service/responses/ratelimit"
	"meridian/internal/service/responses/tools"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"runtime_mode", cfg.RuntimeMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, closeArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build archive: %v", err)
	}
	defer closeArchive()

	providerClient, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf("failed to build provider client: %v", err)
	}

	modelRegistry, err := modelregistry.New(modelregistry.ModelInfo{
		ContextWindowTokens: cfg.ContextWindowTokens,
		CostPer1KTokens:     cfg.CostPer1KTokens,
		SupportsTools:       true,
	})
	if err != nil {
		log.Fatalf("failed to load model registry: %v", err)
	}

	incidentLog := incident.New(filepath.Join(cfg.ArchiveDir, "incidents.json"))
	delegationTracker := delegation.New(archive)
	rateLimitTracker := ratelimit.New()
	rateLimiter := ratelimit.NewLimiter(config.RateLimiterRequestsPerSecond, config.RateLimiterBurst)
	historyPlanner := history.NewWithThreshold(config.DenseHistoryEventThreshold)
	toolRegistry := tools.New()
	conversationManager := conversation.New(conversation.NewMemoryStore())

	runCoordinator := coordinator.New(coordinator.Config{
		Archive:             archive,
		HistoryPlanner:      historyPlanner,
		ConversationManager: conversationManager,
		ToolRegistry:        toolRegistry,
		Provider:            providerClient,
		RateLimitTracker:    rateLimitTracker,
		RateLimiter:         rateLimiter,
		IncidentLog:         incidentLog,
		DelegationTracker:   delegationTracker,
		ModelRegistry:       modelRegistry,
		DefaultPolicy: responses.ConversationPolicy{
			Strategy:   cfg.DefaultPolicy,
			TTLSeconds: 3600,
		},
		DefaultContextWindow: cfg.ContextWindowTokens,
		ToolConstraints: coordinator.ToolConstraints{
			MinToolCalls: config.MinToolCalls,
			MaxToolCalls: config.MaxToolCalls,
		},
	})

	operationsService := ops.New(ops.Config{
		Archive:                archive,
		Coordinator:            runCoordinator,
		IncidentLog:            incidentLog,
		RateLimits:             rateLimitTracker,
		ModelRegistry:          modelRegistry,
		DefaultCostPer1KTokens: cfg.CostPer1KTokens,
	})

	if cfg.ArchiveTTLDays > 0 {
		go runPruneLoop(ctx, operationsService, cfg.ArchiveTTLDays, logger)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     strings.Join([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", middleware.AdminAuth(cfg.AdminToken))
	responsesHandler := handler.NewResponsesHandler(archive, runCoordinator, operationsService, incidentLog, delegationTracker, rateLimitTracker)
	responsesHandler.RegisterRoutes(api)

	logger.Info("routes registered")

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildArchive selects the Postgres-backed Archive when a database URL is
// configured, falling back to the filesystem backend otherwise. The
// returned close func releases any pooled resources.
func buildArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domainresponses.Archive, func(), error) {
	if cfg.PostgresURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, func() {}, err
		}
		tables := postgres.NewTableNames("responses_")
		archive := pgarchive.New(pool, tables, cfg.ArchiveExportDir)
		logger.Info("archive backend selected", "backend", "postgres")
		return archive, pool.Close, nil
	}

	archive := fsarchive.New(fsarchive.Config{
		BaseDir:      cfg.ArchiveDir,
		ColdStoreDir: cfg.ArchiveColdStorageDir,
		ExportDir:    cfg.ArchiveExportDir,
	})
	logger.Info("archive backend selected", "backend", "filesystem", "base_dir", cfg.ArchiveDir)
	return archive, func() {}, nil
}

// buildProvider selects the deterministic stub provider when the runtime
// mode is "stub", and the live Anthropic client for any other mode.
func buildProvider(cfg *config.Config) (domainresponses.ProviderClient, error) {
	if cfg.RuntimeMode == "stub" {
		return provider.NewStub(), nil
	}
	return provider.NewAnthropicClient(cfg.AnthropicAPIKey)
}

// runPruneLoop periodically removes or cold-stores runs older than
// ttlDays, stopping when ctx is cancelled.
func runPruneLoop(ctx context.Context, operations *ops.Service, ttlDays int, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(ttlDays) * 24 * time.Hour)
			count, err := operations.PruneOlderThan(ctx, cutoff)
			if err != nil {
				logger.Warn("background prune failed", "error", err)
				continue
			}
			if count > 0 {
				logger.Info("background prune completed", "pruned", count)
			}
		}
	}
}
