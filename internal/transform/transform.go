// Package transform converts a character pose into the model transform
// handed to the renderer.
package transform

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/relabs-tech/joypose/internal/character"
)

// Transform is applied as translate, then yaw, pitch, roll, then uniform scale.
// Angles are in degrees.
type Transform struct {
	Translation mgl64.Vec3         `json:"translation"`
	Rotation    character.Rotation `json:"rotation"`
	Scale       float64            `json:"scale"`
}

// Emitter produces transforms with a fixed model scale.
type Emitter struct {
	Scale float64
}

// Emit is a pure function of the pose.
func (e Emitter) Emit(p character.Pose) Transform {
	return Transform{
		Translation: p.Position,
		Rotation:    p.Rotation,
		Scale:       e.Scale,
	}
}

// Matrix returns the 4x4 column-major model matrix T * Ry * Rx * Rz * S.
func (t Transform) Matrix() mgl64.Mat4 {
	m := mgl64.Translate3D(t.Translation.X(), t.Translation.Y(), t.Translation.Z())
	m = m.Mul4(mgl64.HomogRotate3DY(mgl64.DegToRad(t.Rotation.Yaw)))
	m = m.Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(t.Rotation.Pitch)))
	m = m.Mul4(mgl64.HomogRotate3DZ(mgl64.DegToRad(t.Rotation.Roll)))
	return m.Mul4(mgl64.Scale3D(t.Scale, t.Scale, t.Scale))
}
