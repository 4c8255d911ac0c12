// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/logging"
	"github.com/relabs-tech/joypose/internal/render"
	"github.com/relabs-tech/joypose/internal/transform"
)

// consoleRenderer prints at most one transform per interval.
type consoleRenderer struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (r *consoleRenderer) Render(_ *render.Mesh, t transform.Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return nil
	}
	r.last = now

	_, err := fmt.Fprintln(r.out, formatTransform(t))
	return err
}

// RunMockConsole drives the full pipeline from the synthetic peripheral and
// prints the resulting transforms.
func RunMockConsole(ctx context.Context, cfg *config.Config, out io.Writer, log zerolog.Logger) error {
	mesh, err := render.LoadMesh(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	ctrl, err := NewController(cfg, Deps{
		Link:     newLinkManager(cfg, true, nil, log),
		Mesh:     mesh,
		Renderer: &consoleRenderer{out: out, interval: 100 * time.Millisecond},
		Logger:   logging.Component(log, "controller"),
	})
	if err != nil {
		return err
	}
	return ctrl.Run(ctx)
}
