package transform

import (
	"encoding/json"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/joypose/internal/character"
)

func TestEmit(t *testing.T) {
	pose := character.Pose{
		Position:         mgl64.Vec3{1, 2, 3},
		Rotation:         character.Rotation{Pitch: 10, Yaw: 45, Roll: 5},
		VerticalVelocity: 0.3,
	}

	got := Emitter{Scale: 0.01}.Emit(pose)

	assert.Equal(t, mgl64.Vec3{1, 2, 3}, got.Translation)
	assert.Equal(t, pose.Rotation, got.Rotation)
	assert.Equal(t, 0.01, got.Scale)
}

func TestMatrix_Identity(t *testing.T) {
	m := Transform{Scale: 1}.Matrix()
	assert.True(t, m.ApproxEqual(mgl64.Ident4()))
}

func TestMatrix_TranslateAndScale(t *testing.T) {
	tr := Transform{Translation: mgl64.Vec3{1, 2, 3}, Scale: 2}
	p := tr.Matrix().Mul4x1(mgl64.Vec4{1, 1, 1, 1})
	assert.True(t, p.ApproxEqual(mgl64.Vec4{3, 4, 5, 1}), "got %v", p)
}

func TestMatrix_YawRotatesAboutY(t *testing.T) {
	tr := Transform{Rotation: character.Rotation{Yaw: 90}, Scale: 1}
	p := tr.Matrix().Mul4x1(mgl64.Vec4{1, 0, 0, 1})
	// right-handed rotation about +Y takes +X to -Z
	assert.True(t, p.ApproxEqualThreshold(mgl64.Vec4{0, 0, -1, 1}, 1e-9), "got %v", p)
}

func TestMatrix_AxisOrderYawBeforePitch(t *testing.T) {
	tr := Transform{Rotation: character.Rotation{Yaw: 90, Pitch: 90}, Scale: 1}
	got := tr.Matrix()
	want := mgl64.HomogRotate3DY(mgl64.DegToRad(90)).Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(90)))
	assert.True(t, got.ApproxEqualThreshold(want, 1e-9))

	wrongOrder := mgl64.HomogRotate3DX(mgl64.DegToRad(90)).Mul4(mgl64.HomogRotate3DY(mgl64.DegToRad(90)))
	assert.False(t, got.ApproxEqualThreshold(wrongOrder, 1e-9))
}

func TestTransform_JSON(t *testing.T) {
	tr := Transform{
		Translation: mgl64.Vec3{1, 0.5, -2},
		Rotation:    character.Rotation{Yaw: 30},
		Scale:       0.01,
	}
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"translation":[1,0.5,-2],"rotation":{"pitch":0,"yaw":30,"roll":0},"scale":0.01}`, string(data))
}
