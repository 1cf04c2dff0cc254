// Package app initializes and orchestrates the main components of the review
// service: storage, the knowledge graph driver, the LLM generator, the
// pipeline runner, and the HTTP server that feeds it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sevigo/reviewcore/internal/config"
	"github.com/sevigo/reviewcore/internal/core"
	"github.com/sevigo/reviewcore/internal/db"
	"github.com/sevigo/reviewcore/internal/gitutil"
	"github.com/sevigo/reviewcore/internal/jobs"
	"github.com/sevigo/reviewcore/internal/kg"
	"github.com/sevigo/reviewcore/internal/llm"
	"github.com/sevigo/reviewcore/internal/observability"
	"github.com/sevigo/reviewcore/internal/pipeline"
	"github.com/sevigo/reviewcore/internal/server"
	"github.com/sevigo/reviewcore/internal/storage"
)

// App holds the main application components.
type App struct {
	Store  storage.Store
	Runner *pipeline.Runner
	Costs  *llm.CostTracker
	Cfg    *config.Config

	logger     *slog.Logger
	server     *server.Server
	dispatcher core.JobDispatcher
}

// NewApp sets up the application with all its dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, func(), error) {
	logger.Info("initializing review service",
		"model_provider", cfg.Pipeline.ModelProvider,
		"model", cfg.Pipeline.ModelName,
		"max_workers", cfg.Server.MaxWorkers,
		"kg", cfg.KG.BoltURL,
	)

	dbConn, dbCleanup, err := db.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(dbConn.DB)

	kgDriver, err := newKGDriver(cfg)
	if err != nil {
		dbCleanup()
		return nil, nil, err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	breakers := observability.NewRegistry(
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.CoolDownMs)*time.Millisecond,
		metrics,
	)

	runner, costs, err := BuildRunner(cfg, store, kgDriver, metrics, breakers, logger)
	if err != nil {
		dbCleanup()
		_ = kgDriver.Close(ctx)
		return nil, nil, err
	}

	reviewJob := jobs.NewReviewJob(cfg, runner, logger)
	dispatcher := jobs.NewDispatcher(ctx, reviewJob, cfg.Server.MaxWorkers, logger)
	httpServer := server.NewServer(ctx, cfg, dispatcher, logger)

	cleanup := func() {
		if err := kgDriver.Close(context.Background()); err != nil {
			logger.Error("failed to close KG driver", "error", err)
		}
		dbCleanup()
	}

	logger.Info("review service initialized successfully")
	return &App{
		Store:      store,
		Runner:     runner,
		Costs:      costs,
		Cfg:        cfg,
		logger:     logger,
		server:     httpServer,
		dispatcher: dispatcher,
	}, cleanup, nil
}

// BuildRunner wires the pipeline runner from shared services for NewApp
// above. The CLI gets its runner through the same NewApp composition, via
// wire.InitializeApp.
func BuildRunner(cfg *config.Config, store storage.Store, kgDriver neo4j.DriverWithContext, metrics *observability.Metrics, breakers *observability.Registry, logger *slog.Logger) (*pipeline.Runner, *llm.CostTracker, error) {
	queries := kg.NewQueryService(kgDriver, cfg.KG.Database, cfg.Timeouts.KGQueryTimeout, metrics)
	retriever := kg.NewRetriever(queries, kg.RetrieverLimits{
		MaxSymbolMatchesPerSeed:   cfg.Limits.MaxKGSymbolMatchesPerSeed,
		MaxCallersPerSeed:         cfg.Limits.MaxCallersPerSeed,
		MaxCalleesPerSeed:         cfg.Limits.MaxCalleesPerSeed,
		MaxContainsPerSeed:        cfg.Limits.MaxContainsPerSeed,
		MaxImportFilesPerSeedFile: cfg.Limits.MaxImportFilesPerSeedFile,
		MaxKGDocsTotal:            cfg.Limits.MaxKGDocsTotal,
		MaxParallelKGCalls:        cfg.Parallelism.MaxParallelKGCalls,
	}, metrics, logger.With("component", "kg_retriever"))

	completer, err := llm.NewCompleter(
		cfg.Pipeline.ModelProvider,
		cfg.Pipeline.ModelName,
		cfg.Pipeline.OllamaHost,
		cfg.Pipeline.GeminiAPIKey,
		newLLMHTTPClient(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create completer: %w", err)
	}

	prompts, err := llm.NewPromptBuilder()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize prompt builder: %w", err)
	}

	costs := llm.NewCostTracker(metrics)
	generator := llm.NewGenerator(completer, prompts, llm.GeneratorConfig{
		Provider:    cfg.Pipeline.ModelProvider,
		Model:       cfg.Pipeline.ModelName,
		MaxTokens:   cfg.Pipeline.MaxTokens,
		Temperature: cfg.Pipeline.Temperature,
		Timeout:     cfg.Timeouts.LLMTimeout,
		MaxRetries:  cfg.Pipeline.MaxRetries,
		MaxFindings: cfg.Limits.MaxFindings,
	}, breakers.Get("llm"), costs, logger)

	cloner := gitutil.NewClient(logger.With("component", "gitutil"))
	runner := pipeline.NewRunner(cfg, store, cloner, retriever, prompts, generator, metrics, logger)
	return runner, costs, nil
}

// newKGDriver opens the process-wide bolt connection pool to the knowledge
// graph.
func newKGDriver(cfg *config.Config) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.KG.BoltURL,
		neo4j.BasicAuth(cfg.KG.Username, cfg.KG.Password, ""),
		func(c *neo4jconfig.Config) {
			c.MaxConnectionPoolSize = cfg.KG.MaxConnectionPoolSize
			c.MaxConnectionLifetime = cfg.KG.MaxConnectionLifetime
			c.ConnectionAcquisitionTimeout = cfg.Timeouts.KGConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create KG driver: %w", err)
	}
	return driver, nil
}

// newLLMHTTPClient builds an HTTP client with generous timeouts; local model
// servers can take a while per request.
func newLLMHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   15 * time.Minute,
	}
}

// Start runs the HTTP server.
func (a *App) Start() error {
	a.logger.Info("starting review service",
		"server_port", a.Cfg.Server.Port,
		"max_workers", a.Cfg.Server.MaxWorkers)

	if err := a.server.Start(); err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	var shutdownErr error
	a.logger.Info("shutting down review service")

	a.dispatcher.Stop()

	if a.server != nil {
		if serverErr := a.server.Stop(); serverErr != nil {
			a.logger.Error("error during HTTP server shutdown", "error", serverErr)
			shutdownErr = errors.Join(shutdownErr, serverErr)
		}
	}

	if shutdownErr != nil {
		a.logger.Error("review service stopped with errors", "error", shutdownErr)
	} else {
		a.logger.Info("review service stopped successfully")
	}
	return shutdownErr
}
