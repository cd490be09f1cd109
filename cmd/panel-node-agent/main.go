package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/agent"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Alterion Panel Node Agent", "version", AppVersion)

	client, err := agent.NewClient(config.Agent)
	if err != nil {
		slog.Error("Failed to initialize agent", "error", err)
		os.Exit(1)
	}

	slog.Info("Agent identity ready", "server_id", client.ServerID())

	if err := client.Start(); err != nil {
		slog.Error("Failed to start agent", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	if err := client.Stop(); err != nil {
		slog.Error("Agent stop error", "error", err)
	}

	slog.Info("Shutdown complete")
}
