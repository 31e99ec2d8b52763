package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/api"
	"github.com/quotegate/backend/internal/app"
	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/pkg/config"
	appLogger "github.com/quotegate/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting policy QA API server",
		zap.String("mode", cfg.Features.Mode),
		zap.String("index", cfg.Index.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
	)

	metrics.Init()

	a, err := app.New(context.Background(), cfg, "")
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer a.Close()

	server := api.NewServer(cfg.Server, api.Deps{
		Engine:    a.Engine,
		Processor: a.Processor,
		Store:     a.Store,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		appLogger.Warn("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
