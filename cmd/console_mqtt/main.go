package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/joypose/internal/app"
	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/logging"
)

func main() {
	configPath := flag.String("config", "joypose_config.txt", "path to the KEY=VALUE config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Info().Msg("starting joypose console (MQTT subscriber)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, logging.Component(log, "console")); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
