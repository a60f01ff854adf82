// Package state defines the global position, velocity and acceleration
// vectors shared by every simulated entity, and the protocol each entity
// implements to read and write its own contiguous slice of them.
package state

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// State is a global position vector x. Rigid bodies store their rotation as
// four quaternion coordinates, so a State is usually longer than the
// matching StateDelta.
type State []float64

// StateDelta is a velocity-sized vector: velocities, accelerations,
// increments, residuals and lumped masses.
type StateDelta []float64

func NewState(n int) State {
	return make(State, n)
}

func NewStateDelta(n int) StateDelta {
	return make(StateDelta, n)
}

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s StateDelta) Clone() StateDelta {
	c := make(StateDelta, len(s))
	copy(c, s)
	return c
}

// IsValid reports false if any coordinate is NaN or Inf.
func (s State) IsValid() bool {
	return isFinite(s)
}

// IsValid reports false if any coordinate is NaN or Inf.
func (s StateDelta) IsValid() bool {
	return isFinite(s)
}

func isFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (s State) Vec3(off int) mgl64.Vec3 {
	return mgl64.Vec3{s[off], s[off+1], s[off+2]}
}

func (s State) SetVec3(off int, v mgl64.Vec3) {
	s[off], s[off+1], s[off+2] = v[0], v[1], v[2]
}

// Quat reads a quaternion stored as (w, x, y, z).
func (s State) Quat(off int) mgl64.Quat {
	return mgl64.Quat{W: s[off], V: mgl64.Vec3{s[off+1], s[off+2], s[off+3]}}
}

func (s State) SetQuat(off int, q mgl64.Quat) {
	s[off] = q.W
	s[off+1], s[off+2], s[off+3] = q.V[0], q.V[1], q.V[2]
}

func (s StateDelta) Vec3(off int) mgl64.Vec3 {
	return mgl64.Vec3{s[off], s[off+1], s[off+2]}
}

func (s StateDelta) SetVec3(off int, v mgl64.Vec3) {
	s[off], s[off+1], s[off+2] = v[0], v[1], v[2]
}

// AddVec3 accumulates v into the three coordinates starting at off.
func (s StateDelta) AddVec3(off int, v mgl64.Vec3) {
	s[off] += v[0]
	s[off+1] += v[1]
	s[off+2] += v[2]
}
