// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	mock := flag.Bool("mock", false, "drive the character from a synthetic joystick instead of the serial port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Info().Bool("mock", *mock).Str("config", *configPath).Msg("starting joypose controller")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunController(ctx, cfg, *mock, log); err != nil {
		log.Fatal().Err(err).Msg("controller failed")
	}
}
