package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tonearm/internal/config"
	"tonearm/internal/daemon"
	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("TONEARM_CONFIG")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		os.Exit(1)
	}

	manager, err := buildManager(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("build workflow manager", logging.Error(err))
		os.Exit(1)
	}

	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("tonearmd shutting down")
}
