// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package character integrates control signals into the character's pose.
package character

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/relabs-tech/joypose/internal/control"
)

// Movement selects how MoveX is mapped onto the ground plane.
type Movement int

const (
	// FacingRelative moves along the current yaw direction.
	FacingRelative Movement = iota
	// WorldAxis moves along world X regardless of yaw.
	WorldAxis
)

// Rotation holds Euler angles in degrees. Yaw is kept in [0, 360).
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Pose is the persistent state of the single controlled character.
type Pose struct {
	Position         mgl64.Vec3 `json:"position"`
	Rotation         Rotation   `json:"rotation"`
	VerticalVelocity float64    `json:"vertical_velocity"`
	Grounded         bool       `json:"grounded"`
}

// Params are the integration constants. Speeds are per nominal tick.
type Params struct {
	MovementSpeed float64
	RotationSpeed float64 // degrees
	JumpImpulse   float64
	Gravity       float64
	GroundHeight  float64
	Movement      Movement
}

// Machine owns the Pose and is its only writer.
type Machine struct {
	params Params
	pose   Pose
}

// NewMachine places the character at rest on the ground at the origin.
func NewMachine(p Params) *Machine {
	return &Machine{
		params: p,
		pose: Pose{
			Position: mgl64.Vec3{0, p.GroundHeight, 0},
			Grounded: true,
		},
	}
}

// Pose returns a copy of the current pose.
func (m *Machine) Pose() Pose {
	return m.pose
}

// Step integrates one control tick. dt is the tick duration normalized to the
// nominal tick (1.0 at the target rate). It returns the updated pose.
func (m *Machine) Step(sig control.Signal, dt float64) Pose {
	p := &m.pose
	prm := m.params

	p.Rotation.Yaw = WrapDegrees(p.Rotation.Yaw + sig.Turn*prm.RotationSpeed*dt)

	step := sig.MoveX * prm.MovementSpeed * dt
	switch prm.Movement {
	case WorldAxis:
		p.Position[0] += step
	default:
		rad := mgl64.DegToRad(p.Rotation.Yaw)
		p.Position[0] += step * math.Cos(rad)
		p.Position[2] += step * math.Sin(rad)
	}

	if sig.JumpTriggered && p.Grounded {
		p.VerticalVelocity = prm.JumpImpulse
		p.Grounded = false
	}

	p.VerticalVelocity -= prm.Gravity * dt
	p.Position[1] += p.VerticalVelocity * dt

	if p.Position[1] <= prm.GroundHeight {
		p.Position[1] = prm.GroundHeight
		p.VerticalVelocity = 0
		p.Grounded = true
	}

	return m.pose
}

// WrapDegrees maps any angle onto [0, 360).
func WrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}
