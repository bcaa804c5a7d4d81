// Command server runs the mock messaging backend the client syncs against.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wesync/internal/config"
	"wesync/internal/server"
	"wesync/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json, toml)")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init server", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
