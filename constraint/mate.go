package constraint

import (
	"errors"
	"fmt"
	"math"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrUnknownMateKind = errors.New("constraint: unknown mate kind")

// Constrained coordinates of a mate, expressed in the link frame of body B.
const (
	DofX = iota
	DofY
	DofZ
	DofRx
	DofRy
	DofRz
)

// DOFMask selects the constrained coordinates of a mate.
type DOFMask [6]bool

func (m DOFMask) Count() int {
	n := 0
	for _, on := range m {
		if on {
			n++
		}
	}
	return n
}

// MateKind tags the variants of the generic mate. Every variant is the same
// record with a different mask, and in a few cases a different frame setup.
type MateKind int

const (
	MateGeneric MateKind = iota
	MateFix
	MateSpherical
	MateRevolute
	MatePrismatic
	MateCylindrical
	MatePlanar
	MateDistanceZ
	MateParallel
	MateOrthogonal
)

var mateKindNames = map[MateKind]string{
	MateGeneric:     "generic",
	MateFix:         "fix",
	MateSpherical:   "spherical",
	MateRevolute:    "revolute",
	MatePrismatic:   "prismatic",
	MateCylindrical: "cylindrical",
	MatePlanar:      "planar",
	MateDistanceZ:   "distance_z",
	MateParallel:    "parallel",
	MateOrthogonal:  "orthogonal",
}

func (k MateKind) String() string {
	if name, ok := mateKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func ParseMateKind(s string) (MateKind, error) {
	for k, name := range mateKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMateKind, s)
}

// KindMask is the constrained coordinates of a variant. The generic variant
// starts with an empty mask.
func KindMask(k MateKind) DOFMask {
	switch k {
	case MateFix:
		return DOFMask{true, true, true, true, true, true}
	case MateSpherical:
		return DOFMask{true, true, true, false, false, false}
	case MateRevolute:
		return DOFMask{true, true, true, true, true, false}
	case MatePrismatic:
		return DOFMask{true, true, false, true, true, true}
	case MateCylindrical:
		return DOFMask{true, true, false, true, true, false}
	case MatePlanar:
		return DOFMask{false, false, true, true, true, false}
	case MateDistanceZ:
		return DOFMask{false, false, true, false, false, false}
	case MateParallel:
		return DOFMask{false, false, false, true, true, false}
	case MateOrthogonal:
		return DOFMask{false, false, false, false, false, true}
	default:
		return DOFMask{}
	}
}

// MateJacobian holds the 6 candidate rows of a mate, for body A and body B.
// Columns follow the body velocity layout: linear velocity (absolute), then
// angular velocity (body frame).
type MateJacobian struct {
	A, B [6][6]float64
}

// relativeRotation is conj(qB*fB) * (qA*fA), in the hemisphere of the
// identity.
func relativeRotation(poseA, poseB, frameA, frameB actor.Transform) mgl64.Quat {
	qA := poseA.Rotation.Mul(frameA.Rotation)
	qB := poseB.Rotation.Mul(frameB.Rotation)
	q := qB.Conjugate().Mul(qA)
	if q.W < 0 {
		q = q.Scale(-1)
	}
	return q
}

// BuildViolation returns the 6 candidate constraint values: the position of
// frame A in frame B, then the imaginary part of the relative rotation.
func BuildViolation(poseA, poseB, frameA, frameB actor.Transform) [6]float64 {
	wA := poseA.Mul(frameA)
	wB := poseB.Mul(frameB)
	p := wB.DirToLocal(wA.Position.Sub(wB.Position))
	q := relativeRotation(poseA, poseB, frameA, frameB)
	return [6]float64{p[0], p[1], p[2], q.V[0], q.V[1], q.V[2]}
}

// BuildJacobian differentiates BuildViolation with respect to the body
// velocities.
func BuildJacobian(poseA, poseB, frameA, frameB actor.Transform) MateJacobian {
	RA := poseA.Matrix()
	RB := poseB.Matrix()
	RfA := frameA.Matrix()
	RfB := frameB.Matrix()
	RwBT := RB.Mul3(RfB).Transpose()

	pA := poseA.PointToWorld(frameA.Position)
	s := poseB.DirToLocal(pA.Sub(poseB.Position))

	linA := RwBT
	angA := RwBT.Mul3(RA).Mul3(skew(frameA.Position)).Mul(-1)
	linB := RwBT.Mul(-1)
	angB := RfB.Transpose().Mul3(skew(s))

	q := relativeRotation(poseA, poseB, frameA, frameB)
	wI := mgl64.Diag3(mgl64.Vec3{q.W, q.W, q.W})
	plus := wI.Add(skew(q.V)).Mul(0.5)
	minus := wI.Sub(skew(q.V)).Mul(0.5)
	rotA := plus.Mul3(RfA.Transpose())
	rotB := minus.Mul3(RfB.Transpose()).Mul(-1)

	var j MateJacobian
	for i := 0; i < 3; i++ {
		setRow(&j.A[i], linA.Row(i), angA.Row(i))
		setRow(&j.B[i], linB.Row(i), angB.Row(i))
		setRow(&j.A[3+i], mgl64.Vec3{}, rotA.Row(i))
		setRow(&j.B[3+i], mgl64.Vec3{}, rotB.Row(i))
	}
	return j
}

func setRow(dst *[6]float64, lin, ang mgl64.Vec3) {
	dst[0], dst[1], dst[2] = lin[0], lin[1], lin[2]
	dst[3], dst[4], dst[5] = ang[0], ang[1], ang[2]
}

// skew is the cross product matrix: skew(a)*b = a × b.
func skew(a mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		0, a[2], -a[1],
		-a[2], 0, a[0],
		a[1], -a[0], 0,
	}
}

// Mate constrains a subset of the relative coordinates between a frame on
// body A and a frame on body B. Reactions are expressed in frame B, as
// applied to body A.
type Mate struct {
	Base

	Kind         MateKind
	BodyA, BodyB *actor.RigidBody
	// FrameA and FrameB are the link frames, relative to their bodies.
	FrameA, FrameB actor.Transform
	// Distance is imposed along Z for MateDistanceZ.
	Distance float64
	// Motion, when set, prescribes the translational coordinate MotionAxis:
	// C = p - f(t).
	Motion     function.Function
	MotionAxis int

	mask   DOFMask
	limits [6]float64
	rows   [6]*solver.Row

	c, ct [6]float64
	jac   MateJacobian
	q12   mgl64.Quat

	reactionForce  mgl64.Vec3
	reactionTorque mgl64.Vec3
}

// NewMate links a and b with frames given relative to each body.
func NewMate(kind MateKind, a, b *actor.RigidBody, frameA, frameB actor.Transform) (*Mate, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("mate %v: %w", kind, ErrNilBody)
	}
	if a == b {
		return nil, fmt.Errorf("mate %v: %w", kind, ErrSameBody)
	}
	if _, ok := mateKindNames[kind]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMateKind, kind)
	}
	m := &Mate{
		Kind:   kind,
		BodyA:  a,
		BodyB:  b,
		FrameA: frameA,
		FrameB: frameB,
		q12:    mgl64.QuatIdent(),
	}
	m.SetMask(KindMask(kind))
	return m, nil
}

// NewMateAt links a and b at a common world frame. For MateOrthogonal the
// X axis of frame A is kept orthogonal to the Y axis of frame B by locking
// the twist about their common Z axis.
func NewMateAt(kind MateKind, a, b *actor.RigidBody, world actor.Transform) (*Mate, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("mate %v: %w", kind, ErrNilBody)
	}
	frameA := a.Transform.Inverse().Mul(world)
	frameB := b.Transform.Inverse().Mul(world)
	return NewMate(kind, a, b, frameA, frameB)
}

// NewGenericMate links a and b on an arbitrary set of coordinates.
func NewGenericMate(a, b *actor.RigidBody, frameA, frameB actor.Transform, mask DOFMask) (*Mate, error) {
	m, err := NewMate(MateGeneric, a, b, frameA, frameB)
	if err != nil {
		return nil, err
	}
	m.SetMask(mask)
	return m, nil
}

func (m *Mate) Mask() DOFMask { return m.mask }

// SetMask changes the constrained coordinates. Multipliers of coordinates
// that stay constrained are kept.
func (m *Mate) SetMask(mask DOFMask) {
	m.mask = mask
	for i, on := range mask {
		switch {
		case on && m.rows[i] == nil:
			m.rows[i] = solver.NewBilateralRow(m.BodyA.Variables(), m.BodyB.Variables())
			m.applyLimit(i)
		case !on:
			m.rows[i] = nil
		}
	}
}

// SetForceLimit bounds the reaction on one coordinate to ±limit, turning
// its row into a boxed row. A non-positive limit removes the bound.
func (m *Mate) SetForceLimit(dof int, limit float64) {
	m.limits[dof] = limit
	m.applyLimit(dof)
}

func (m *Mate) applyLimit(dof int) {
	r := m.rows[dof]
	if r == nil {
		return
	}
	if m.limits[dof] > 0 {
		r.SetBox(-m.limits[dof], m.limits[dof])
	} else {
		r.SetBox(math.Inf(-1), math.Inf(1))
	}
}

// SetMotion prescribes the translational coordinate axis with f.
func (m *Mate) SetMotion(axis int, f function.Function) {
	m.MotionAxis = axis
	m.Motion = f
}

func (m *Mate) NumRows() int { return m.mask.Count() }

func (m *Mate) IsActive() bool {
	return m.enabled() && (m.BodyA.IsActive() || m.BodyB.IsActive())
}

func (m *Mate) Update(t float64) {
	a, b := m.BodyA.Transform, m.BodyB.Transform
	m.c = BuildViolation(a, b, m.FrameA, m.FrameB)
	m.jac = BuildJacobian(a, b, m.FrameA, m.FrameB)
	m.q12 = relativeRotation(a, b, m.FrameA, m.FrameB)
	m.ct = [6]float64{}

	if m.Kind == MateDistanceZ {
		m.c[DofZ] -= m.Distance
	}
	if m.Motion != nil && m.MotionAxis >= DofX && m.MotionAxis <= DofZ {
		m.c[m.MotionAxis] -= m.Motion.Value(t)
		m.ct[m.MotionAxis] = -m.Motion.Derivative(t)
	}
}

func (m *Mate) GenerateSparsity() int { return 12 * m.NumRows() }

func (m *Mate) BuildD() {
	for i, r := range m.rows {
		if r == nil {
			continue
		}
		copy(r.JA, m.jac.A[i][:])
		copy(r.JB, m.jac.B[i][:])
	}
}

func (m *Mate) BuildB(factor, recoveryClamp float64, doClamp bool) {
	for i, r := range m.rows {
		if r != nil {
			r.Bias = clampBias(m.c[i], factor, recoveryClamp, doClamp) + m.ct[i]
		}
	}
}

func (m *Mate) BuildE() {
	for _, r := range m.rows {
		if r != nil {
			r.Compliance = 0
		}
	}
}

func (m *Mate) InjectRows(d *solver.Descriptor) {
	if !m.IsActive() {
		return
	}
	for _, r := range m.rows {
		if r != nil {
			d.InsertRow(r)
		}
	}
}

func (m *Mate) FetchReactions(factor float64) {
	var g [6]float64
	for i, r := range m.rows {
		if r != nil {
			g[i] = r.Gamma
		}
	}
	m.reactionForce = mgl64.Vec3{g[0], g[1], g[2]}.Mul(factor)

	q := m.q12
	wI := mgl64.Diag3(mgl64.Vec3{q.W, q.W, q.W})
	minus := wI.Sub(skew(q.V)).Mul(0.5)
	m.reactionTorque = minus.Transpose().Mul3x1(mgl64.Vec3{g[3], g[4], g[5]}).Mul(factor)
}

// ReactionForce is the force on body A in frame B coordinates.
func (m *Mate) ReactionForce() mgl64.Vec3 { return m.reactionForce }

// ReactionTorque is the torque on body A in frame B coordinates.
func (m *Mate) ReactionTorque() mgl64.Vec3 { return m.reactionTorque }

func (m *Mate) ConstraintViolation() []float64 {
	out := make([]float64, 0, m.NumRows())
	for i, on := range m.mask {
		if on {
			out = append(out, m.c[i])
		}
	}
	return out
}

func (m *Mate) CheckBreak() bool {
	return m.breakIf(math.Max(m.reactionForce.Len(), m.reactionTorque.Len()))
}

func (m *Mate) Variables() (solver.Variables, solver.Variables) {
	return m.BodyA.Variables(), m.BodyB.Variables()
}

func (m *Mate) ArchiveOut() (LinkArchive, error) {
	a := LinkArchive{
		Type:        linkMate,
		Kind:        m.Kind.String(),
		Mask:        m.mask,
		FrameA:      archiveTransform(m.FrameA),
		FrameB:      archiveTransform(m.FrameB),
		Distance:    m.Distance,
		MotionAxis:  m.MotionAxis,
		ForceLimits: m.limits,
		BreakForce:  m.BreakForce,
		State:       m.state.String(),
	}
	if m.Motion != nil {
		fa, err := function.ArchiveOut(m.Motion)
		if err != nil {
			return LinkArchive{}, err
		}
		a.Function = &fa
	}
	return a, nil
}
