package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"podcast-credits-go/internal/billing"
	"podcast-credits-go/internal/database"
	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/postgres"
	"podcast-credits-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeStore opens the ledger store selected by cfg.Backend.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.CreditStore, error) {
	switch cfg.Backend {
	case "postgres":
		zap.L().Info("Using postgres ledger store")
		return postgres.NewService(ctx, cfg.Postgres)
	case "sqlite":
		zap.L().Info("Using sqlite ledger store", zap.String("path", cfg.Database.Path))
		return database.NewService(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported backend: %q", cfg.Backend)
	}
}

// InitializeCatalog loads the plan catalog from cfg.PlansFile, falling back
// to the built-in defaults when the file is absent.
func InitializeCatalog(cfg *models.Config) (*billing.Catalog, error) {
	catalog, err := billing.LoadCatalog(cfg.PlansFile)
	if err == nil {
		zap.L().Info("Loaded plan catalog", zap.String("file", cfg.PlansFile))
		return catalog, nil
	}

	zap.L().Warn("Plan catalog file not loaded, using defaults",
		zap.String("file", cfg.PlansFile),
		zap.Error(err))
	return billing.DefaultCatalog(), nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
