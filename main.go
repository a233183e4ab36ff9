package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/config"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	engine, err := services.NewEngine(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	logger.Info("fathom-engine started",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Int("connections", len(engine.ListConnections())),
		zap.Int("kinds", len(engine.ListKinds())),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs

	logger.Info("shutting down", zap.String("signal", sig.String()))
	if err := engine.Shutdown(); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	}
}
