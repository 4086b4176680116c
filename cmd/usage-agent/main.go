package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JackTn/azure-sdk-usage-agent/internal/config"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

const version = "1.0.0"

var logger = observability.NewLogger("main")

func main() {
	if err := run(); err != nil {
		logger.Error(context.Background(), "Usage agent stopped", err, nil)
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWithContext(); err != nil {
		return err
	}
	observability.SetDefaultLevel(observability.ParseLevel(cfg.Server.LogLevel))
	gin.SetMode(cfg.Server.GinMode)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Usage agent starting", map[string]interface{}{
			"port":    cfg.Server.Port,
			"version": version,
			"aliases": a.store.AliasCount(),
			"source":  a.store.SourceName(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
