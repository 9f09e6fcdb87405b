package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"airguard/internal/config"
	"airguard/internal/logger"
	"airguard/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := monitor.New(cfg)
	if err := m.Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("monitor exited")
		stop()
		os.Exit(1)
	}

	logger.Logger.Info().Msg("exited")
}
