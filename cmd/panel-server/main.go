package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/auth"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/db"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Alterion Panel Server", "version", AppVersion)

	ctx := context.Background()

	if err := db.RunMigrations(config.Db.Url, config.Db.Schema); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.Db.Url, config.Db.Schema)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	keys, err := identity.EnsureServerIdentity(config.StateDir)
	if err != nil {
		slog.Error("Failed to load server identity", "error", err)
		os.Exit(1)
	}

	keyStore, err := identity.NewKeyStore(filepath.Join(config.StateDir, "node-keys"))
	if err != nil {
		slog.Error("Failed to open key store", "error", err)
		os.Exit(1)
	}

	nodeService := nodes.NewService(pool)
	hub := control.NewHub(nodeService, keyStore, keys, config.Control)

	services := &internalhttp.Services{
		Auth:            auth.NewService(config.Auth),
		Nodes:           nodeService,
		Dispatcher:      control.NewDispatcher(hub),
		ControlEndpoint: control.NewEndpoint(hub),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
