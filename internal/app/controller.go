// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/character"
	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/control"
	"github.com/relabs-tech/joypose/internal/diag"
	"github.com/relabs-tech/joypose/internal/frame"
	"github.com/relabs-tech/joypose/internal/link"
	"github.com/relabs-tech/joypose/internal/render"
	"github.com/relabs-tech/joypose/internal/transform"
)

// ErrNoMesh is returned when the controller is started without a model.
var ErrNoMesh = errors.New("no mesh loaded")

// Link is the part of link.Manager the link loop drives.
type Link interface {
	Open(ctx context.Context) error
	ReadLine(ctx context.Context) (string, error)
	FrameOK()
	State() link.LinkState
	Close() error
}

// Status is what the web and MQTT surfaces report about the running loop.
type Status struct {
	Link    link.LinkState     `json:"link"`
	Pose    character.Snapshot `json:"pose"`
	Diag    diag.Snapshot      `json:"diag"`
	Uptime  float64            `json:"uptime_s"`
	Started time.Time          `json:"started"`
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Link     Link
	Mesh     *render.Mesh
	Renderer render.Renderer
	Diag     *diag.Recorder // created when nil
	Logger   zerolog.Logger
}

// Controller runs the link loop, the input loop and the render loop.
type Controller struct {
	cfg *config.Config
	log zerolog.Logger

	link     Link
	norm     *control.Normalizer
	machine  *character.Machine
	cell     *character.Cell
	emitter  transform.Emitter
	mesh     *render.Mesh
	renderer render.Renderer
	diag     *diag.Recorder
	inbox    *inbox

	started time.Time
}

// NewController wires the pipeline. It refuses to build without a mesh.
func NewController(cfg *config.Config, d Deps) (*Controller, error) {
	if d.Mesh == nil {
		return nil, ErrNoMesh
	}
	if d.Link == nil {
		return nil, errors.New("no serial link")
	}
	if d.Renderer == nil {
		d.Renderer = render.Fanout{}
	}
	if d.Diag == nil {
		rec, err := diag.New()
		if err != nil {
			return nil, err
		}
		d.Diag = rec
	}

	movement := character.FacingRelative
	if cfg.MovementMode == config.MovementWorld {
		movement = character.WorldAxis
	}
	machine := character.NewMachine(character.Params{
		MovementSpeed: cfg.MovementSpeed,
		RotationSpeed: cfg.RotationSpeed,
		JumpImpulse:   cfg.JumpImpulse,
		Gravity:       cfg.Gravity,
		GroundHeight:  cfg.GroundHeight,
		Movement:      movement,
	})

	c := &Controller{
		cfg:      cfg,
		log:      d.Logger,
		link:     d.Link,
		norm:     control.NewNormalizer(control.Options{Deadzone: cfg.Deadzone, ButtonActiveLow: cfg.ButtonActiveLow}),
		machine:  machine,
		cell:     &character.Cell{},
		emitter:  transform.Emitter{Scale: cfg.ModelScale},
		mesh:     d.Mesh,
		renderer: d.Renderer,
		diag:     d.Diag,
		inbox:    newInbox(cfg.ButtonActiveLow),
		started:  time.Now(),
	}
	c.cell.Store(machine.Pose())
	return c, nil
}

// Cell exposes the latest pose to readers outside the loops.
func (c *Controller) Cell() *character.Cell { return c.cell }

// Status reports the link, the latest pose and the counters.
func (c *Controller) Status() Status {
	snap, _ := c.cell.Load()
	return Status{
		Link:    c.link.State(),
		Pose:    snap,
		Diag:    c.diag.Snapshot(),
		Uptime:  time.Since(c.started).Seconds(),
		Started: c.started,
	}
}

// Run blocks until ctx is cancelled, then closes the link.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Dur("control_tick", c.cfg.ControlTick()).
		Dur("idle_timeout", c.cfg.InputIdleTimeout).
		Dur("render_tick", c.cfg.RenderTick()).
		Str("mesh", c.mesh.Path()).
		Msg("controller started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.linkLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.inputLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.renderLoop(ctx)
	}()
	wg.Wait()

	c.log.Info().Msg("controller stopped")
	return c.link.Close()
}

// linkLoop owns the serial link: it reconnects, reads and decodes, and hands
// samples to the input loop. Blocking here never holds up a physics step.
func (c *Controller) linkLoop(ctx context.Context) {
	var retryAt time.Time

	for ctx.Err() == nil {
		if c.link.State().State == link.Connected {
			if s := c.read(ctx); s != nil {
				c.inbox.put(*s)
			}
			continue
		}
		if c.reconnect(ctx, &retryAt) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(retryAt)):
		}
	}
}

// inputLoop steps the character once per fresh sample, or on the empty
// signal once the link has been quiet for the idle timeout, so gravity keeps
// running while nothing arrives. Each step covers the wall time since the
// previous one.
func (c *Controller) inputLoop(ctx context.Context) {
	idle := time.NewTimer(c.cfg.InputIdleTimeout)
	defer idle.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.inbox.ready:
		case <-idle.C:
		}

		sample, reconnected := c.inbox.take()
		if reconnected {
			// the peripheral restarts on open; stale button history would hide a press
			c.norm.Reset()
		}
		now := time.Now()
		pose := c.machine.Step(c.norm.Next(sample), c.dtNorm(now.Sub(last)))
		last = now
		c.cell.Store(pose)

		idle.Reset(c.cfg.InputIdleTimeout)
	}
}

// reconnect tries to open the link once retryAt has passed and reports
// whether it came up. A failed attempt pushes retryAt one interval ahead.
func (c *Controller) reconnect(ctx context.Context, retryAt *time.Time) bool {
	if time.Now().Before(*retryAt) {
		return false
	}

	err := c.link.Open(ctx)
	switch {
	case err == nil:
		c.diag.Count(diag.Reconnect)
		c.inbox.reconnected()
		return true
	case ctx.Err() != nil:
		return false
	default:
		*retryAt = time.Now().Add(c.cfg.SerialRetryInterval)
		c.diag.Count(diag.LinkOpenFailed)
		c.log.Warn().Err(err).Dur("retry_in", c.cfg.SerialRetryInterval).Msg("serial link unavailable")
		return false
	}
}

// read fetches and decodes one line; nil means no usable input.
func (c *Controller) read(ctx context.Context) *frame.Sample {
	line, err := c.link.ReadLine(ctx)
	switch {
	case err == nil:
	case errors.Is(err, link.ErrNoData):
		c.diag.Count(diag.ReadTimeout)
		return nil
	case errors.Is(err, link.ErrLinkDown):
		c.diag.Count(diag.LinkDrop)
		c.diag.Disconnected()
		return nil
	default:
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("serial read failed")
		}
		return nil
	}

	s, err := frame.Decode(line)
	c.diag.Frame(err, time.Now())
	if err != nil {
		c.log.Debug().Err(err).Str("line", line).Msg("frame rejected")
		return nil
	}
	c.link.FrameOK()
	return &s
}

// dtNorm converts elapsed wall time into nominal control ticks. The ground
// clamp runs after every step, so long steps are only capped on request.
func (c *Controller) dtNorm(elapsed time.Duration) float64 {
	dt := float64(elapsed) / float64(c.cfg.ControlTick())
	if dt < 0 {
		return 0
	}
	if c.cfg.MaxTickScale > 0 && dt > c.cfg.MaxTickScale {
		return c.cfg.MaxTickScale
	}
	return dt
}

func (c *Controller) renderLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RenderTick())
	defer ticker.Stop()

	var failing bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, ok := c.cell.Load()
		if !ok {
			continue
		}
		err := c.renderer.Render(c.mesh, c.emitter.Emit(snap.Pose))
		switch {
		case err != nil && !failing:
			c.log.Warn().Err(err).Msg("render sink failed")
			failing = true
		case err == nil && failing:
			c.log.Info().Msg("render sinks recovered")
			failing = false
		}
	}
}
