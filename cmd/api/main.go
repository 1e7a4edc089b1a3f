package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/SupraChat/internal/app"
	"github.com/markdave123-py/SupraChat/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	if err := cfg.ValidateGateway(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, closer, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closer.Close()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	logger.Info("SupraChat gateway is running")
	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down...")
}
