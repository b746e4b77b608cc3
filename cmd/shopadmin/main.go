package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/shopadmin/pkg/config"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/server"
)

func main() {
	bootLogger := observability.NewLogger(observability.InfoLevel, os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to start shopadmin")
		os.Exit(1)
	}

	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"driver":      cfg.Database.Driver,
		"enforce":     cfg.RBAC.Enforce,
	}).Info("shopadmin starting")

	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Error("shopadmin stopped with error")
		os.Exit(1)
	}
	logger.Info("shopadmin stopped")
}
