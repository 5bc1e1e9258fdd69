package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/api"
	"github.com/hba1c-validation-server/internal/audit"
	"github.com/hba1c-validation-server/internal/config"
	"github.com/hba1c-validation-server/internal/service"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	var store audit.Store = audit.NopStore{}
	if cfg.Audit.Enabled {
		sqliteStore, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open audit store")
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	// Train in the background so the port binds immediately; requests are
	// rejected with a retryable status until the trainer reports healthy.
	trainer := service.NewTrainer(logger, cfg)
	trainer.Start(nil)

	server := api.NewServer(cfg, logger, trainer, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting HbA1c validation server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from configuration.
func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
