// Package startup prepares and runs the relay server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/application/container"
	"github.com/AtRiskMedia/tracker-go/internal/presentation/http/server"
	"github.com/AtRiskMedia/tracker-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize wires the container, starts the relay and blocks until SIGINT
// or SIGTERM, then shuts down gracefully.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	log.Println("Initializing dependency injection container...")
	appContainer, err := container.NewContainer(os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}

	logger := appContainer.Logger
	logger.LogStartupPhase("container", time.Since(start), true, map[string]any{
		"transport": config.TrackerTransport,
		"endpoint":  config.TrackerEndpoint,
		"signed":    config.TrackerAPIKey != "",
	})

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()
	go runMarkerCleanup(ctx, appContainer)

	startServerTime := time.Now()
	port := config.Port
	httpServer := server.New(port, appContainer)
	logger.LogStartupPhase("http_server", time.Since(startServerTime), true, map[string]any{"port": port})

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", port)

	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			appContainer.Close()
			return err
		}
	}

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	if err := appContainer.Close(); err != nil {
		log.Printf("Error closing container: %v", err)
	}
	return nil
}

// runMarkerCleanup trims expired performance markers until ctx is done.
func runMarkerCleanup(ctx context.Context, c *container.Container) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PerfTracker.Cleanup()
		}
	}
}

// setupLogging configures application logging
func setupLogging() {
	switch config.GinMode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(config.GinMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
