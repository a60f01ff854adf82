package state

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Below this half angle the rotation vector <-> quaternion maps use their
// Taylor expansions.
const smallHalfAngle = 1e-8

// QuatFromRotVec returns the unit quaternion rotating by |v| radians about
// v. The zero vector maps to the identity.
func QuatFromRotVec(v mgl64.Vec3) mgl64.Quat {
	angle := v.Len()
	half := 0.5 * angle

	var k float64 // sin(half)/angle
	if half < smallHalfAngle {
		k = 0.5 - angle*angle/48.0
	} else {
		k = math.Sin(half) / angle
	}

	return mgl64.Quat{W: math.Cos(half), V: v.Mul(k)}
}

// QuatToRotVec returns the rotation vector (axis * angle) of q, choosing the
// representative with angle in [0, pi]. Near the identity the vector is
// computed from the imaginary part directly, so no axis is ever divided by a
// vanishing length.
func QuatToRotVec(q mgl64.Quat) mgl64.Vec3 {
	if q.W < 0 {
		q = mgl64.Quat{W: -q.W, V: q.V.Mul(-1)}
	}

	sinHalf := q.V.Len()
	if sinHalf < smallHalfAngle {
		return q.V.Mul(2.0 / q.W)
	}

	angle := 2.0 * math.Atan2(sinHalf, q.W)
	return q.V.Mul(angle / sinHalf)
}

// Normalize rescales q to unit length. mgl64's Normalize leaves nearly unit
// quaternions untouched, which lets drift accumulate over long runs.
func Normalize(q mgl64.Quat) mgl64.Quat {
	l := q.Len()
	if l == 0 {
		return mgl64.QuatIdent()
	}
	return q.Scale(1.0 / l)
}

// IncrementQuat composes q with a body-frame rotation vector:
// q_new = q * exp(dv).
func IncrementQuat(q mgl64.Quat, dv mgl64.Vec3) mgl64.Quat {
	return Normalize(q.Mul(QuatFromRotVec(dv)))
}

// DecrementQuat is the inverse of IncrementQuat: the body-frame rotation
// vector taking qOld to qNew, from conj(qOld) * qNew.
func DecrementQuat(qNew, qOld mgl64.Quat) mgl64.Vec3 {
	return QuatToRotVec(qOld.Conjugate().Mul(qNew))
}

// QuatFromAngleAxis builds a rotation of angle radians about axis. A
// zero-length axis falls back to the X axis.
func QuatFromAngleAxis(angle float64, axis mgl64.Vec3) mgl64.Quat {
	l := axis.Len()
	if l < 1e-12 {
		axis = mgl64.Vec3{1, 0, 0}
	} else {
		axis = axis.Mul(1.0 / l)
	}
	return mgl64.QuatRotate(angle, axis)
}
