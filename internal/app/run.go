// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/diag"
	"github.com/relabs-tech/joypose/internal/link"
	"github.com/relabs-tech/joypose/internal/logging"
	"github.com/relabs-tech/joypose/internal/render"
)

// MockPortName is reported as the endpoint of the synthetic peripheral.
const MockPortName = "mock"

func newLinkManager(cfg *config.Config, mock bool, onChange func(link.LinkState), log zerolog.Logger) *link.Manager {
	opts := link.Options{
		BaudRate:         cfg.SerialBaudRate,
		ConnectTimeout:   cfg.SerialConnectTimeout,
		ResetDelay:       cfg.SerialResetDelay,
		ReadTimeout:      cfg.SerialReadTimeout,
		TimeoutThreshold: cfg.SerialTimeoutThreshold,
		Logger:           logging.Component(log, "link"),
		OnStateChange:    onChange,
	}

	switch {
	case mock:
		opts.Discoverer = link.FixedPort(MockPortName)
		opts.Opener = link.MockOpener(cfg.ControlTick())
		opts.ResetDelay = 0
	case cfg.SerialPort == config.AutoPort:
		opts.Discoverer = link.USBDiscoverer{VendorIDs: cfg.SerialDeviceIDs}
		opts.Opener = link.SerialOpener
	default:
		opts.Discoverer = link.FixedPort(cfg.SerialPort)
		opts.Opener = link.SerialOpener
	}

	return link.NewManager(opts)
}

// RunController runs the control loop with the web server and, when a broker
// is configured, the MQTT publisher. mock replaces the serial peripheral with
// a synthetic one.
func RunController(ctx context.Context, cfg *config.Config, mock bool, log zerolog.Logger) error {
	mesh, err := render.LoadMesh(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	log.Info().Str("path", mesh.Path()).Str("format", mesh.Format()).Int64("bytes", mesh.Size()).Msg("model loaded")

	rec, err := diag.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sinks render.Fanout
	var onChange func(link.LinkState)
	if cfg.MQTTBroker != "" {
		pub, client, err := NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientIDController,
			cfg.TopicTransform, cfg.TopicLink, cfg.PublishInterval, logging.Component(log, "mqtt"))
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		sinks = append(sinks, pub)
		onChange = pub.PublishLink
	}

	var ctrl *Controller
	var web *WebServer
	if cfg.WebServerPort != 0 {
		web = NewWebServer(cfg.WebServerPort, cfg.WebDir, mesh,
			func() Status { return ctrl.Status() }, logging.Component(log, "web"))
		sinks = append(sinks, web)
	}

	ctrl, err = NewController(cfg, Deps{
		Link:     newLinkManager(cfg, mock, onChange, log),
		Mesh:     mesh,
		Renderer: sinks,
		Diag:     rec,
		Logger:   logging.Component(log, "controller"),
	})
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		webErr error
	)
	if web != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if webErr = web.Run(ctx); webErr != nil {
				cancel()
			}
		}()
	}

	err = ctrl.Run(ctx)
	cancel()
	wg.Wait()

	if webErr != nil {
		return webErr
	}
	return err
}
