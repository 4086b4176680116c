package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	"github.com/JackTn/azure-sdk-usage-agent/internal/auth"
	"github.com/JackTn/azure-sdk-usage-agent/internal/config"
	"github.com/JackTn/azure-sdk-usage-agent/internal/database"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/llm"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
	"github.com/JackTn/azure-sdk-usage-agent/internal/parser"
	"github.com/JackTn/azure-sdk-usage-agent/internal/schema"
	"github.com/JackTn/azure-sdk-usage-agent/internal/sqlexec"
	"github.com/JackTn/azure-sdk-usage-agent/internal/tools"
)

// app is the wired server: alias store, parser, executor, auth and routes
type app struct {
	router  *gin.Engine
	store   *alias.Store
	auth    *auth.Manager
	closers []func()
}

// Close stops background work and releases connections, newest first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the server. On failure everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	health := observability.NewHealthChecker("azure-sdk-usage-agent", version)

	// Aliases
	store, err := a.openAliasStore(ctx, cfg, health)
	if err != nil {
		return nil, err
	}
	a.store = store
	matcher := alias.NewMatcher(store, alias.WithWholeWord(cfg.Aliases.WholeWord))
	logger.Info(ctx, "Alias matcher ready", map[string]interface{}{
		"source":     store.SourceName(),
		"aliases":    store.AliasCount(),
		"whole_word": matcher.WholeWord(),
	})
	health.Register("aliases", observability.AliasStoreHealthCheck(store.LoadError, store.AliasCount))

	// Schema
	catalog, err := schema.LoadFile(cfg.Schema.FilePath)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Schema loaded", map[string]interface{}{
		"path":           cfg.Schema.FilePath,
		"enabled_tables": len(catalog.EnabledTables()),
	})

	// Redis backs the parse cache and, optionally, the shared rate limiter
	var (
		rdb   *redis.Client
		cache parser.Cache
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn(ctx, "Redis unavailable, parse results will not be cached", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		} else {
			cache = parser.NewRedisCache(rdb, cfg.Redis.ParseCacheTTL)
		}
		health.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	// Parse orchestrator
	aiClient, err := llm.NewFromSettings(llmSettings(cfg.AI))
	if err != nil {
		return nil, err
	}
	var aiParser *parser.AIParser
	if aiClient != nil {
		aiParser = parser.NewAIParser(aiClient, catalog)
	}
	orchestrator := parser.NewOrchestrator(aiParser, parser.NewRuleParser(catalog, nil), cache, parser.Options{
		AITimeout:           cfg.AI.Timeout,
		ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
	})
	logger.Info(ctx, "Parse orchestrator ready", map[string]interface{}{
		"ai_mode":   cfg.AI.Mode,
		"threshold": cfg.AI.ConfidenceThreshold,
		"cached":    cache != nil,
	})

	// SQL backend
	var executor sqlexec.Executor
	if cfg.SQL.Endpoint != "" {
		client := sqlexec.NewClient(cfg.SQL.Endpoint, cfg.SQL.Database, sqlexec.AuthConfig{
			Type:        cfg.SQL.AuthType,
			Username:    cfg.SQL.Username,
			Password:    cfg.SQL.Password,
			BearerToken: cfg.SQL.BearerToken,
		}, cfg.SQL.Timeout)
		executor = sqlexec.NewCircuitBreakerExecutor(client, "sql-backend", sqlexec.DefaultBreakerPolicy)
		health.Register("sql_backend", observability.SQLBackendHealthCheck(client.Ping))
	} else {
		logger.Warn(ctx, "SQL_ENDPOINT not set, execution tools are disabled", nil)
	}

	// Auth
	authManager, err := a.newAuthManager(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	a.auth = authManager

	toolset := tools.NewToolset(tools.Dependencies{
		Store:        store,
		Matcher:      matcher,
		Schema:       catalog,
		Orchestrator: orchestrator,
		Executor:     executor,
	})

	router := gin.New()
	router.Use(observability.RecoveryMiddleware(logger))
	router.Use(observability.RequestLoggingMiddleware(logger))
	router.Use(observability.CORSWithLogging(logger))
	router.GET("/health", observability.HealthHandler(health))
	router.GET("/metrics", observability.MetricsHandler(observability.GetGlobalMetrics()))

	api := router.Group("/api/v1")
	auth.NewHandlers(a.auth).SetupRoutes(api)
	toolset.RegisterRoutes(api.Group("", a.auth.Middleware()), a.auth.RequireRole(auth.RoleAdmin))

	a.router = router
	ready = true
	return a, nil
}

// openAliasStore opens the configured source, loads it and starts the file
// watcher when enabled
func (a *app) openAliasStore(ctx context.Context, cfg *config.Config, health *observability.HealthChecker) (*alias.Store, error) {
	var source alias.Source

	switch cfg.Aliases.Source {
	case config.AliasSourcePostgres:
		pgConfig := alias.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		}
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(database.MigrationConfig{DatabaseURL: pgConfig.URL()}); err != nil {
				return nil, err
			}
		}
		db, err := alias.OpenPostgres(pgConfig)
		if err != nil {
			return nil, apperrors.NewDatabaseConnectionError(err)
		}
		a.closers = append(a.closers, func() { db.Close() })

		pg := alias.NewPostgresSource(db, cfg.Aliases.DocumentName)
		health.Register("database", observability.DatabaseHealthCheck(pg.Ping))
		source = pg
	default:
		source = alias.NewFileSource(cfg.Aliases.ConfigPath)
	}

	store := alias.NewStore(source)
	if err := store.Load(ctx); err != nil {
		// A missing document starts empty; the first Save creates it
		if !apperrors.HasCode(err, apperrors.ErrCodeConfigNotFound) {
			return nil, err
		}
	}
	for _, problem := range store.Validate() {
		logger.Warn(ctx, "Alias configuration problem", map[string]interface{}{"problem": problem})
	}

	fileSource, ok := source.(*alias.FileSource)
	if !ok || !cfg.Aliases.Watch {
		return store, nil
	}

	watcher, err := alias.NewWatcher(store, fileSource, cfg.Aliases.WatchDebounce)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := watcher.Stop(); err != nil {
			logger.Warn(context.Background(), "Failed to stop alias watcher", map[string]interface{}{"error": err.Error()})
		}
	})
	return store, nil
}

// newAuthManager creates the auth manager, registers the bootstrap client and
// starts the cleanup of expired keys and idle limiter windows
func (a *app) newAuthManager(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*auth.Manager, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.closers = append(a.closers, cancel)

	var limiter auth.RateLimiter
	if cfg.Redis.RateLimit && rdb != nil {
		limiter = auth.NewRedisRateLimiter(rdb, "ratelimit")
	} else {
		memory := auth.NewMemoryRateLimiter()
		go memory.Run(bgCtx, time.Minute)
		limiter = memory
	}

	manager := auth.NewManager(auth.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		RateLimit:      cfg.Auth.RateLimit,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
	}, limiter)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn(ctx, "JWT_SECRET not set, tokens will not survive a restart", nil)
	}

	if cfg.Auth.BootstrapClientID != "" {
		if _, err := manager.RegisterClient(cfg.Auth.BootstrapClientID, "bootstrap", cfg.Auth.BootstrapClientSecret, []string{auth.RoleAdmin}); err != nil {
			return nil, err
		}
		logger.Info(ctx, "Bootstrap client registered", map[string]interface{}{"client_id": cfg.Auth.BootstrapClientID})
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if removed := manager.CleanupExpired(); removed > 0 {
					logger.Info(bgCtx, "Expired API keys removed", map[string]interface{}{"count": removed})
				}
			}
		}
	}()

	return manager, nil
}

func llmSettings(ai config.AIConfig) llm.Settings {
	backend := func(b config.BackendConfig) llm.Config {
		return llm.Config{
			APIKey:      b.APIKey,
			Model:       b.Model,
			BaseURL:     b.BaseURL,
			Timeout:     ai.Timeout,
			MaxTokens:   ai.MaxTokens,
			Temperature: ai.Temperature,
		}
	}

	return llm.Settings{
		Mode:               llm.Mode(ai.Mode),
		OpenAI:             backend(ai.OpenAI),
		Azure:              ai.AzureOpenAI,
		Ollama:             backend(ai.Ollama),
		Claude:             backend(ai.Claude),
		HybridLocalTimeout: ai.HybridLocalTimeout,
	}
}
