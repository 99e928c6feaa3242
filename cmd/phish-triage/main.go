package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/adapters/httpapi"
	"github.com/mikey/phish-triage/internal/adapters/smtpfilter"
	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
	"github.com/mikey/phish-triage/internal/di"
)

func main() {
	// Load environment overrides from a local .env file if present
	_ = godotenv.Load()

	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	httpServer *httpapi.Server,
	smtpFilter *smtpfilter.Filter,
	store core.SenderHistoryStore,
	scorer core.TextScorer,
) error {
	defer logger.Sync()

	httpCfg := cfg.GetHTTP()
	smtpCfg := cfg.GetSMTP()
	if !httpCfg.Enabled && !smtpCfg.Enabled {
		return fmt.Errorf("no transport enabled, enable http or smtp in the configuration")
	}

	httpErrCh := make(chan error, 1)
	if httpCfg.Enabled {
		go func() {
			httpErrCh <- httpServer.Start()
		}()
	}
	if smtpCfg.Enabled {
		if err := smtpFilter.Start(); err != nil {
			logger.Fatal("Failed to start SMTP filter", zap.Error(err))
			return err
		}
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if httpCfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(ctx); err != nil {
			logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}
	if smtpCfg.Enabled {
		if err := smtpFilter.Stop(); err != nil {
			logger.Error("Failed to stop SMTP filter", zap.Error(err))
		}
	}

	// Close any resources that need closing
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close history store", zap.Error(err))
		}
	}
	if closer, ok := scorer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close text scorer", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
