package solver

import "github.com/go-gl/mathgl/mgl64"

// Variables is a block of velocity unknowns owned by one entity. The solver
// only needs its location in the global velocity vector and how to apply
// the block's inverse mass.
type Variables interface {
	Offset() int
	SetOffset(off int)
	NDOF() int
	IsActive() bool
	// MulInvMass writes M⁻¹*src into dst. Inactive blocks write zeros.
	MulInvMass(dst, src []float64)
	// MulMass writes M*src into dst.
	MulMass(dst, src []float64)
}

type variablesBase struct {
	offset   int
	disabled bool
}

func (v *variablesBase) Offset() int       { return v.offset }
func (v *variablesBase) SetOffset(off int) { v.offset = off }
func (v *variablesBase) IsActive() bool    { return !v.disabled }

// SetDisabled removes the block from the solve. Its velocities are left
// untouched by ComputeImpulses.
func (v *variablesBase) SetDisabled(disabled bool) { v.disabled = disabled }

// BodyVariables holds the 6 velocity unknowns of a rigid body: linear
// velocity in the absolute frame, angular velocity in the body frame.
type BodyVariables struct {
	variablesBase
	mass       float64
	invMass    float64
	inertia    mgl64.Mat3
	invInertia mgl64.Mat3
}

func (v *BodyVariables) NDOF() int { return 6 }

func (v *BodyVariables) SetMass(m float64) {
	v.mass = m
	v.invMass = 1.0 / m
}

func (v *BodyVariables) SetInertia(inertia mgl64.Mat3) {
	v.inertia = inertia
	v.invInertia = inertia.Inv()
}

func (v *BodyVariables) Mass() float64              { return v.mass }
func (v *BodyVariables) Inertia() mgl64.Mat3        { return v.inertia }
func (v *BodyVariables) InverseInertia() mgl64.Mat3 { return v.invInertia }

func (v *BodyVariables) MulInvMass(dst, src []float64) {
	if v.disabled {
		clear(dst[:6])
		return
	}
	dst[0] = v.invMass * src[0]
	dst[1] = v.invMass * src[1]
	dst[2] = v.invMass * src[2]
	w := v.invInertia.Mul3x1(mgl64.Vec3{src[3], src[4], src[5]})
	dst[3], dst[4], dst[5] = w[0], w[1], w[2]
}

func (v *BodyVariables) MulMass(dst, src []float64) {
	dst[0] = v.mass * src[0]
	dst[1] = v.mass * src[1]
	dst[2] = v.mass * src[2]
	w := v.inertia.Mul3x1(mgl64.Vec3{src[3], src[4], src[5]})
	dst[3], dst[4], dst[5] = w[0], w[1], w[2]
}

// ShaftVariables is the single rotational unknown of a shaft.
type ShaftVariables struct {
	variablesBase
	inertia    float64
	invInertia float64
}

func (v *ShaftVariables) NDOF() int { return 1 }

func (v *ShaftVariables) SetInertia(j float64) {
	v.inertia = j
	v.invInertia = 1.0 / j
}

func (v *ShaftVariables) Inertia() float64 { return v.inertia }

func (v *ShaftVariables) MulInvMass(dst, src []float64) {
	if v.disabled {
		dst[0] = 0
		return
	}
	dst[0] = v.invInertia * src[0]
}

func (v *ShaftVariables) MulMass(dst, src []float64) {
	dst[0] = v.inertia * src[0]
}

// NodeVariables are the three translational unknowns of a point mass.
type NodeVariables struct {
	variablesBase
	mass    float64
	invMass float64
}

func (v *NodeVariables) NDOF() int { return 3 }

func (v *NodeVariables) SetMass(m float64) {
	v.mass = m
	v.invMass = 1.0 / m
}

func (v *NodeVariables) Mass() float64 { return v.mass }

func (v *NodeVariables) MulInvMass(dst, src []float64) {
	if v.disabled {
		clear(dst[:3])
		return
	}
	dst[0] = v.invMass * src[0]
	dst[1] = v.invMass * src[1]
	dst[2] = v.invMass * src[2]
}

func (v *NodeVariables) MulMass(dst, src []float64) {
	dst[0] = v.mass * src[0]
	dst[1] = v.mass * src[1]
	dst[2] = v.mass * src[2]
}
