package actor

import "github.com/go-gl/mathgl/mgl64"

// Transform is a rigid placement: a position and a unit rotation. It is
// used both for body poses and for link frames attached to bodies.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// NewTransform creates an identity transform
func NewTransform() Transform {
	return Transform{
		Position: mgl64.Vec3{0, 0, 0},
		Rotation: mgl64.QuatIdent(),
	}
}

// Matrix is the 3x3 rotation matrix of the transform.
func (t Transform) Matrix() mgl64.Mat3 {
	return t.Rotation.Mat4().Mat3()
}

func (t Transform) PointToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return t.Position.Add(t.Rotation.Rotate(local))
}

func (t Transform) PointToLocal(world mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Conjugate().Rotate(world.Sub(t.Position))
}

func (t Transform) DirToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Rotate(local)
}

func (t Transform) DirToLocal(world mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Conjugate().Rotate(world)
}

// Mul expresses a transform given relative to t in t's parent frame.
func (t Transform) Mul(local Transform) Transform {
	return Transform{
		Position: t.PointToWorld(local.Position),
		Rotation: t.Rotation.Mul(local.Rotation),
	}
}

// Inverse returns the transform mapping parent coordinates into t.
func (t Transform) Inverse() Transform {
	inv := t.Rotation.Conjugate()
	return Transform{
		Position: inv.Rotate(t.Position).Mul(-1),
		Rotation: inv,
	}
}
