package actor

import (
	"errors"
	"fmt"
	"math"

	"github.com/akmonengine/linkage/solver"
	"github.com/akmonengine/linkage/state"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrInvalidInertia = errors.New("actor: mass and inertia must be positive")

// BodyType represents the type of rigid body
type BodyType int

const (
	// BodyTypeDynamic bodies are affected by forces, gravity, and collisions
	BodyTypeDynamic BodyType = iota

	// BodyTypeStatic bodies are fixed: they keep their place in the state
	// vectors but never move (e.g., ground, walls)
	BodyTypeStatic
)

// Material holds the surface and bulk properties of a body.
type Material struct {
	Density          float64 `yaml:"density"`
	Friction         float64 `yaml:"friction"`
	SpinningFriction float64 `yaml:"spinning_friction"`
	RollingFriction  float64 `yaml:"rolling_friction"`
	// Compliance softens contacts, 0 is rigid.
	Compliance float64 `yaml:"compliance"`
}

func DefaultMaterial() Material {
	return Material{Density: 1000, Friction: 0.6}
}

// Flags are the boolean switches of a body.
type Flags struct {
	Fixed        bool `yaml:"fixed"`
	LimitSpeed   bool `yaml:"limit_speed"`
	NoGyroTorque bool `yaml:"no_gyro_torque"`
	UseSleeping  bool `yaml:"use_sleeping"`
}

// SpeedLimits bound the velocities when Flags.LimitSpeed is set.
type SpeedLimits struct {
	MaxSpeed float64 `yaml:"max_speed"`
	MaxWvel  float64 `yaml:"max_wvel"`
}

func DefaultSpeedLimits() SpeedLimits {
	return SpeedLimits{MaxSpeed: 0.5, MaxWvel: 2 * math.Pi}
}

// RigidBody represents a rigid body in the physics simulation.
//
// Its position block holds 7 coordinates (position, then the rotation
// quaternion as w, x, y, z) and its velocity block 6 (linear velocity in the
// absolute frame, angular velocity in the body frame).
type RigidBody struct {
	state.Block
	sleeper

	Transform Transform

	Velocity        mgl64.Vec3 // absolute frame (m/s)
	AngularVelocity mgl64.Vec3 // body frame (rad/s)

	// Backward difference estimates, for reporting only.
	Acceleration        mgl64.Vec3
	AngularAcceleration mgl64.Vec3

	Material Material
	Limits   SpeedLimits
	Shape    Shape

	flags   Flags
	mass    float64
	inertia mgl64.Mat3
	gyro    mgl64.Vec3
	aabb    AABB
	time    float64

	accumulatedForce  mgl64.Vec3 // world frame, at the center of mass
	accumulatedTorque mgl64.Vec3 // world frame
	appliedForce      mgl64.Vec3
	appliedTorque     mgl64.Vec3 // body frame

	variables solver.BodyVariables
}

// NewRigidBody creates a new rigid body with the given properties.
// density is used to calculate mass for dynamic bodies (ignored for static)
func NewRigidBody(transform Transform, shape Shape, bodyType BodyType, density float64) (*RigidBody, error) {
	rb := &RigidBody{
		Transform: transform,
		Shape:     shape,
		Material:  DefaultMaterial(),
		Limits:    DefaultSpeedLimits(),
	}
	rb.SleepParams = DefaultSleepParams()

	if bodyType == BodyTypeStatic {
		rb.mass = 1
		rb.inertia = mgl64.Ident3()
		rb.flags.Fixed = true
	} else {
		if shape == nil || density <= 0 || shape.Volume() <= 0 {
			return nil, fmt.Errorf("%w: density %v on %v", ErrInvalidInertia, density, shapeName(shape))
		}
		rb.Material.Density = density
		rb.mass = density * shape.Volume()
		rb.inertia = shape.ComputeInertia(rb.mass)
	}

	rb.variables.SetMass(rb.mass)
	rb.variables.SetInertia(rb.inertia)
	rb.Update(0)

	return rb, nil
}

func shapeName(s Shape) string {
	if s == nil {
		return "nil shape"
	}
	return s.Type().String()
}

func (rb *RigidBody) Mass() float64              { return rb.mass }
func (rb *RigidBody) Inertia() mgl64.Mat3        { return rb.inertia }
func (rb *RigidBody) InverseInertia() mgl64.Mat3 { return rb.variables.InverseInertia() }
func (rb *RigidBody) Flags() Flags               { return rb.flags }
func (rb *RigidBody) AABB() AABB                 { return rb.aabb }
func (rb *RigidBody) Time() float64              { return rb.time }
func (rb *RigidBody) Gyro() mgl64.Vec3           { return rb.gyro }

// Variables is the solver block of the body.
func (rb *RigidBody) Variables() *solver.BodyVariables { return &rb.variables }

// SetOffsets places the body in the global vectors. The solver block shares
// the velocity offset.
func (rb *RigidBody) SetOffsets(offX, offW int) {
	rb.Block.SetOffsets(offX, offW)
	rb.variables.SetOffset(offW)
}

// SetMass changes the mass. It must be strictly positive.
func (rb *RigidBody) SetMass(m float64) error {
	if !(m > 0) || math.IsInf(m, 0) {
		return fmt.Errorf("%w: mass %v", ErrInvalidInertia, m)
	}
	rb.mass = m
	rb.variables.SetMass(m)
	return nil
}

// SetInertia changes the body frame inertia tensor about the center of mass.
// The tensor must be symmetric positive definite.
func (rb *RigidBody) SetInertia(inertia mgl64.Mat3) error {
	if !isSymmetricPositiveDefinite(inertia) {
		return fmt.Errorf("%w: inertia %v", ErrInvalidInertia, inertia)
	}
	rb.inertia = inertia
	rb.variables.SetInertia(inertia)
	return nil
}

// SetInertiaXX sets a diagonal inertia tensor.
func (rb *RigidBody) SetInertiaXX(diag mgl64.Vec3) error {
	return rb.SetInertia(mgl64.Diag3(diag))
}

func isSymmetricPositiveDefinite(m mgl64.Mat3) bool {
	const tol = 1e-12
	scale := math.Max(1, math.Abs(m.Trace()))
	if math.Abs(m.At(0, 1)-m.At(1, 0)) > tol*scale ||
		math.Abs(m.At(0, 2)-m.At(2, 0)) > tol*scale ||
		math.Abs(m.At(1, 2)-m.At(2, 1)) > tol*scale {
		return false
	}
	// Sylvester's criterion
	m1 := m.At(0, 0)
	m2 := m.At(0, 0)*m.At(1, 1) - m.At(0, 1)*m.At(1, 0)
	return m1 > 0 && m2 > 0 && m.Det() > 0
}

// SetFixed pins the body. A fixed body keeps its block in the state
// vectors, but takes no forces and no velocity updates.
func (rb *RigidBody) SetFixed(fixed bool) {
	rb.flags.Fixed = fixed
	if fixed {
		rb.Velocity = mgl64.Vec3{}
		rb.AngularVelocity = mgl64.Vec3{}
		rb.Acceleration = mgl64.Vec3{}
		rb.AngularAcceleration = mgl64.Vec3{}
	}
	rb.variables.SetDisabled(!rb.IsActive())
}

func (rb *RigidBody) SetLimitSpeed(on bool)   { rb.flags.LimitSpeed = on }
func (rb *RigidBody) SetNoGyroTorque(on bool) { rb.flags.NoGyroTorque = on }

// SetUseSleeping enables the deactivation heuristic. Turning it off wakes
// the body.
func (rb *RigidBody) SetUseSleeping(on bool) {
	rb.flags.UseSleeping = on
	if !on {
		rb.Awake()
	}
}

// IsActive reports whether the body takes part in the solve.
func (rb *RigidBody) IsActive() bool {
	return !rb.IsSleeping() && !rb.flags.Fixed
}

// Update recomputes the quantities that depend on the state: gyroscopic
// term, bounds and solver activation.
func (rb *RigidBody) Update(t float64) {
	rb.time = t
	rb.gyro = rb.ComputeGyro()
	if rb.Shape != nil {
		rb.aabb = rb.Shape.ComputeAABB(rb.Transform)
	}
	rb.variables.SetDisabled(!rb.IsActive())
}

// UpdateForces sums the applied loads and gravity for the coming step.
func (rb *RigidBody) UpdateForces(gravity mgl64.Vec3) {
	rb.appliedForce = rb.accumulatedForce.Add(gravity.Mul(rb.mass))
	rb.appliedTorque = rb.Transform.DirToLocal(rb.accumulatedTorque)
}

// ComputeGyro is ω × (I·ω) in the body frame.
func (rb *RigidBody) ComputeGyro() mgl64.Vec3 {
	return rb.AngularVelocity.Cross(rb.inertia.Mul3x1(rb.AngularVelocity))
}

// ClampSpeed rescales the velocities down to Limits when LimitSpeed is set.
func (rb *RigidBody) ClampSpeed() {
	if !rb.flags.LimitSpeed {
		return
	}
	if s := rb.Velocity.Len(); s > rb.Limits.MaxSpeed {
		rb.Velocity = rb.Velocity.Mul(rb.Limits.MaxSpeed / s)
	}
	if w := rb.AngularVelocity.Len(); w > rb.Limits.MaxWvel {
		rb.AngularVelocity = rb.AngularVelocity.Mul(rb.Limits.MaxWvel / w)
	}
}

// TrySleeping advances the sleep timer and reports whether the body is a
// sleep candidate. The owning system decides whether it actually sleeps.
func (rb *RigidBody) TrySleeping(dt float64) bool {
	if !rb.flags.UseSleeping || rb.flags.Fixed {
		return false
	}
	return rb.observe(dt, rb.Velocity.Len(), rb.AngularVelocity.Len())
}

func (rb *RigidBody) Sleep() {
	rb.sleep()
	rb.ClearForces()
	rb.Velocity = mgl64.Vec3{}
	rb.AngularVelocity = mgl64.Vec3{}
	rb.variables.SetDisabled(true)
}

func (rb *RigidBody) Awake() {
	rb.wake()
	rb.variables.SetDisabled(!rb.IsActive())
}

// AddForce applies a world frame force at the center of mass until the next
// ClearForces.
func (rb *RigidBody) AddForce(force mgl64.Vec3) {
	if rb.flags.Fixed {
		return
	}
	rb.Awake()
	rb.accumulatedForce = rb.accumulatedForce.Add(force)
}

// AddForceAtPoint applies a world frame force at a world point.
func (rb *RigidBody) AddForceAtPoint(force, point mgl64.Vec3) {
	if rb.flags.Fixed {
		return
	}
	rb.AddForce(force)
	rb.accumulatedTorque = rb.accumulatedTorque.Add(point.Sub(rb.Transform.Position).Cross(force))
}

// AddTorque applies a world frame torque.
func (rb *RigidBody) AddTorque(torque mgl64.Vec3) {
	if rb.flags.Fixed {
		return
	}
	rb.Awake()
	rb.accumulatedTorque = rb.accumulatedTorque.Add(torque)
}

func (rb *RigidBody) ClearForces() {
	rb.accumulatedForce = mgl64.Vec3{0, 0, 0}
	rb.accumulatedTorque = mgl64.Vec3{0, 0, 0}
}

// PointVelocity is the absolute velocity of a world point moving with the
// body.
func (rb *RigidBody) PointVelocity(point mgl64.Vec3) mgl64.Vec3 {
	wWorld := rb.Transform.DirToWorld(rb.AngularVelocity)
	return rb.Velocity.Add(wWorld.Cross(point.Sub(rb.Transform.Position)))
}

// KineticEnergy is ½mv² + ½ωᵀIω.
func (rb *RigidBody) KineticEnergy() float64 {
	w := rb.AngularVelocity
	return 0.5*rb.mass*rb.Velocity.Dot(rb.Velocity) + 0.5*w.Dot(rb.inertia.Mul3x1(w))
}

// GetInertiaWorld is R * I_local * Rᵀ.
func (rb *RigidBody) GetInertiaWorld() mgl64.Mat3 {
	R := rb.Transform.Matrix()
	return R.Mul3(rb.inertia).Mul3(R.Transpose())
}

// GetInverseInertiaWorld is zero for fixed bodies.
func (rb *RigidBody) GetInverseInertiaWorld() mgl64.Mat3 {
	if rb.flags.Fixed {
		return mgl64.Mat3{}
	}
	R := rb.Transform.Matrix()
	return R.Mul3(rb.variables.InverseInertia()).Mul3(R.Transpose())
}

// ===== state vector protocol =====

func (rb *RigidBody) NumCoordsPos() int { return 7 }
func (rb *RigidBody) NumCoordsVel() int { return 6 }

func (rb *RigidBody) StateGather(offX int, x state.State, offV int, v state.StateDelta) float64 {
	x.SetVec3(offX, rb.Transform.Position)
	x.SetQuat(offX+3, rb.Transform.Rotation)
	v.SetVec3(offV, rb.Velocity)
	v.SetVec3(offV+3, rb.AngularVelocity)
	return rb.time
}

func (rb *RigidBody) StateScatter(offX int, x state.State, offV int, v state.StateDelta, t float64, fullUpdate bool) {
	rb.Transform.Position = x.Vec3(offX)
	rb.Transform.Rotation = x.Quat(offX + 3)
	rb.Velocity = v.Vec3(offV)
	rb.AngularVelocity = v.Vec3(offV + 3)
	rb.time = t
	if fullUpdate {
		rb.Update(t)
	}
}

func (rb *RigidBody) StateGatherAcceleration(offA int, a state.StateDelta) {
	a.SetVec3(offA, rb.Acceleration)
	a.SetVec3(offA+3, rb.AngularAcceleration)
}

func (rb *RigidBody) StateScatterAcceleration(offA int, a state.StateDelta) {
	rb.Acceleration = a.Vec3(offA)
	rb.AngularAcceleration = a.Vec3(offA + 3)
}

func (rb *RigidBody) StateIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	xNew.SetVec3(offX, x.Vec3(offX).Add(dv.Vec3(offV)))
	xNew.SetQuat(offX+3, state.IncrementQuat(x.Quat(offX+3), dv.Vec3(offV+3)))
}

func (rb *RigidBody) StateGetIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	dv.SetVec3(offV, xNew.Vec3(offX).Sub(x.Vec3(offX)))
	dv.SetVec3(offV+3, state.DecrementQuat(xNew.Quat(offX+3), x.Quat(offX+3)))
}

// LoadResidualF adds c*(F, T - ω×Iω). Fixed bodies contribute nothing.
func (rb *RigidBody) LoadResidualF(offV int, r state.StateDelta, c float64) {
	if rb.flags.Fixed {
		return
	}
	torque := rb.appliedTorque
	if !rb.flags.NoGyroTorque {
		torque = torque.Sub(rb.gyro)
	}
	r.AddVec3(offV, rb.appliedForce.Mul(c))
	r.AddVec3(offV+3, torque.Mul(c))
}

func (rb *RigidBody) LoadResidualMv(offV int, r state.StateDelta, w state.StateDelta, c float64) {
	r.AddVec3(offV, w.Vec3(offV).Mul(c*rb.mass))
	r.AddVec3(offV+3, rb.inertia.Mul3x1(w.Vec3(offV+3)).Mul(c))
}

// LoadLumpedMass keeps the diagonal of the inertia tensor and returns the
// magnitude of the products of inertia it dropped.
func (rb *RigidBody) LoadLumpedMass(offV int, md state.StateDelta, c float64) float64 {
	md.AddVec3(offV, mgl64.Vec3{c * rb.mass, c * rb.mass, c * rb.mass})
	md.AddVec3(offV+3, rb.inertia.Diag().Mul(c))

	var err float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i != j {
				err += math.Abs(rb.inertia.At(i, j))
			}
		}
	}
	return c * err
}

// VariablesQbSetSpeed reads the solved velocities back from v, estimating
// accelerations by backward difference.
func (rb *RigidBody) VariablesQbSetSpeed(v state.StateDelta, dt float64) {
	if !rb.IsActive() {
		return
	}
	off := rb.OffsetW()
	oldV, oldW := rb.Velocity, rb.AngularVelocity
	rb.Velocity = v.Vec3(off)
	rb.AngularVelocity = v.Vec3(off + 3)
	if dt > 0 {
		rb.Acceleration = rb.Velocity.Sub(oldV).Mul(1 / dt)
		rb.AngularAcceleration = rb.AngularVelocity.Sub(oldW).Mul(1 / dt)
	}
	rb.ClampSpeed()
}

// VariablesQbIncrementPosition advances the pose by one explicit step with
// the current velocities. The rotation composes in the body frame.
func (rb *RigidBody) VariablesQbIncrementPosition(dt float64) {
	if !rb.IsActive() {
		return
	}
	rb.Transform.Position = rb.Transform.Position.Add(rb.Velocity.Mul(dt))
	rb.Transform.Rotation = state.IncrementQuat(rb.Transform.Rotation, rb.AngularVelocity.Mul(dt))
}

// ===== archive =====

// RigidBodyArchive is the persistent form of a RigidBody.
type RigidBodyArchive struct {
	Position        mgl64.Vec3   `yaml:"position,flow"`
	Rotation        [4]float64   `yaml:"rotation,flow"`
	Velocity        mgl64.Vec3   `yaml:"velocity,flow"`
	AngularVelocity mgl64.Vec3   `yaml:"angular_velocity,flow"`
	Mass            float64      `yaml:"mass"`
	Inertia         mgl64.Mat3   `yaml:"inertia,flow"`
	Flags           Flags        `yaml:"flags"`
	Sleep           SleepParams  `yaml:"sleep"`
	Limits          SpeedLimits  `yaml:"limits"`
	Material        Material     `yaml:"material"`
	Shape           ShapeArchive `yaml:"shape"`
}

func (rb *RigidBody) ArchiveOut() (RigidBodyArchive, error) {
	shape, err := ArchiveShape(rb.Shape)
	if err != nil {
		return RigidBodyArchive{}, err
	}
	q := rb.Transform.Rotation
	return RigidBodyArchive{
		Position:        rb.Transform.Position,
		Rotation:        [4]float64{q.W, q.V[0], q.V[1], q.V[2]},
		Velocity:        rb.Velocity,
		AngularVelocity: rb.AngularVelocity,
		Mass:            rb.mass,
		Inertia:         rb.inertia,
		Flags:           rb.flags,
		Sleep:           rb.SleepParams,
		Limits:          rb.Limits,
		Material:        rb.Material,
		Shape:           shape,
	}, nil
}

func (rb *RigidBody) ArchiveIn(a RigidBodyArchive) error {
	if err := rb.SetMass(a.Mass); err != nil {
		return err
	}
	if err := rb.SetInertia(a.Inertia); err != nil {
		return err
	}
	shape, err := a.Shape.Shape()
	if err != nil {
		return err
	}

	rb.Transform = Transform{
		Position: a.Position,
		Rotation: state.Normalize(mgl64.Quat{W: a.Rotation[0], V: mgl64.Vec3{a.Rotation[1], a.Rotation[2], a.Rotation[3]}}),
	}
	rb.Velocity = a.Velocity
	rb.AngularVelocity = a.AngularVelocity
	rb.flags = a.Flags
	rb.SleepParams = a.Sleep
	rb.Limits = a.Limits
	rb.Material = a.Material
	rb.Shape = shape
	rb.wake()
	rb.Update(rb.time)
	return nil
}

// NewRigidBodyFromArchive rebuilds a body from its archive.
func NewRigidBodyFromArchive(a RigidBodyArchive) (*RigidBody, error) {
	rb := &RigidBody{Transform: NewTransform()}
	if err := rb.ArchiveIn(a); err != nil {
		return nil, err
	}
	return rb, nil
}
