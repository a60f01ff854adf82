package constraint

import (
	"fmt"
	"math"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/solver"
)

// shaftPair is the common part of the one-row shaft couplings.
type shaftPair struct {
	Base
	ShaftA, ShaftB *actor.Shaft

	row       *solver.Row
	violation float64
}

func newShaftPair(a, b *actor.Shaft) (shaftPair, error) {
	if a == nil || b == nil {
		return shaftPair{}, ErrNilBody
	}
	if a == b {
		return shaftPair{}, ErrSameBody
	}
	return shaftPair{
		ShaftA: a,
		ShaftB: b,
		row:    solver.NewBilateralRow(a.Variables(), b.Variables()),
	}, nil
}

func (p *shaftPair) NumRows() int { return 1 }

func (p *shaftPair) IsActive() bool {
	return p.enabled() && (p.ShaftA.IsActive() || p.ShaftB.IsActive())
}

func (p *shaftPair) GenerateSparsity() int { return 2 }

func (p *shaftPair) BuildE() { p.row.Compliance = 0 }

func (p *shaftPair) InjectRows(d *solver.Descriptor) {
	if p.IsActive() {
		d.InsertRow(p.row)
	}
}

func (p *shaftPair) ConstraintViolation() []float64 { return []float64{p.violation} }

func (p *shaftPair) Variables() (solver.Variables, solver.Variables) {
	return p.ShaftA.Variables(), p.ShaftB.Variables()
}

// Row exposes the constraint row, mostly for inspection.
func (p *shaftPair) Row() *solver.Row { return p.row }

// ShaftsMotorAngle imposes the relative rotation of two shafts:
//
//	C = θA - θB - f(t) - Offset = 0
//
// The time derivative Ct = -f'(t) enters the bias, so the solve yields the
// torque that tracks the prescribed angle exactly.
type ShaftsMotorAngle struct {
	shaftPair

	Function function.Function
	Offset   float64

	ct     float64
	torque float64
}

// NewShaftsMotorAngle couples a and b with the unit ramp f(t) = t.
func NewShaftsMotorAngle(a, b *actor.Shaft) (*ShaftsMotorAngle, error) {
	p, err := newShaftPair(a, b)
	if err != nil {
		return nil, fmt.Errorf("motor angle: %w", err)
	}
	return &ShaftsMotorAngle{
		shaftPair: p,
		Function:  function.Ramp{Y0: 0, Slope: 1},
	}, nil
}

// MotorRot is θA - θB.
func (m *ShaftsMotorAngle) MotorRot() float64 { return m.ShaftA.Pos - m.ShaftB.Pos }

// MotorRotDt is ωA - ωB.
func (m *ShaftsMotorAngle) MotorRotDt() float64 { return m.ShaftA.Speed - m.ShaftB.Speed }

// MotorTorque is the torque the motor applies on shaft A; shaft B receives
// the opposite.
func (m *ShaftsMotorAngle) MotorTorque() float64 { return m.torque }

func (m *ShaftsMotorAngle) Update(t float64) {
	f, df := 0.0, 0.0
	if m.Function != nil {
		f, df = m.Function.Value(t), m.Function.Derivative(t)
	}
	m.violation = m.MotorRot() - f - m.Offset
	m.ct = -df
}

func (m *ShaftsMotorAngle) BuildD() {
	m.row.JA[0] = 1
	m.row.JB[0] = -1
}

func (m *ShaftsMotorAngle) BuildB(factor, recoveryClamp float64, doClamp bool) {
	m.row.Bias = clampBias(m.violation, factor, recoveryClamp, doClamp) + m.ct
}

func (m *ShaftsMotorAngle) FetchReactions(factor float64) {
	m.torque = m.row.Gamma * factor
}

func (m *ShaftsMotorAngle) CheckBreak() bool { return m.breakIf(math.Abs(m.torque)) }

func (m *ShaftsMotorAngle) ArchiveOut() (LinkArchive, error) {
	fa, err := function.ArchiveOut(m.Function)
	if err != nil {
		return LinkArchive{}, err
	}
	return LinkArchive{
		Type:       linkMotorAngle,
		Offset:     m.Offset,
		Function:   &fa,
		BreakForce: m.BreakForce,
		State:      m.state.String(),
	}, nil
}

// ShaftsGear couples two shafts with a fixed transmission ratio:
//
//	C = Ratio*θA - θB - phase = 0
//
// where phase is the misalignment at Initialize time.
type ShaftsGear struct {
	shaftPair

	Ratio float64

	phase  float64
	torque float64
}

func NewShaftsGear(a, b *actor.Shaft, ratio float64) (*ShaftsGear, error) {
	p, err := newShaftPair(a, b)
	if err != nil {
		return nil, fmt.Errorf("gear: %w", err)
	}
	g := &ShaftsGear{shaftPair: p, Ratio: ratio}
	g.Initialize()
	return g, nil
}

// Initialize takes the current positions as the meshing reference.
func (g *ShaftsGear) Initialize() {
	g.phase = g.Ratio*g.ShaftA.Pos - g.ShaftB.Pos
}

// TorqueOnA is the reaction torque applied to shaft A.
func (g *ShaftsGear) TorqueOnA() float64 { return g.torque * g.Ratio }

// TorqueOnB is the reaction torque applied to shaft B.
func (g *ShaftsGear) TorqueOnB() float64 { return -g.torque }

func (g *ShaftsGear) Update(float64) {
	g.violation = g.Ratio*g.ShaftA.Pos - g.ShaftB.Pos - g.phase
}

func (g *ShaftsGear) BuildD() {
	g.row.JA[0] = g.Ratio
	g.row.JB[0] = -1
}

func (g *ShaftsGear) BuildB(factor, recoveryClamp float64, doClamp bool) {
	g.row.Bias = clampBias(g.violation, factor, recoveryClamp, doClamp)
}

func (g *ShaftsGear) FetchReactions(factor float64) {
	g.torque = g.row.Gamma * factor
}

func (g *ShaftsGear) CheckBreak() bool {
	return g.breakIf(math.Max(math.Abs(g.TorqueOnA()), math.Abs(g.TorqueOnB())))
}

func (g *ShaftsGear) ArchiveOut() (LinkArchive, error) {
	return LinkArchive{
		Type:       linkGear,
		Ratio:      g.Ratio,
		Offset:     g.phase,
		BreakForce: g.BreakForce,
		State:      g.state.String(),
	}, nil
}
