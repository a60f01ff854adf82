package constraint

import (
	"errors"
	"math"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/solver"
)

var (
	ErrBroken           = errors.New("constraint: link is broken")
	ErrForeignVariables = errors.New("constraint: connected entity does not belong to the system")
	ErrNilBody          = errors.New("constraint: missing connected entity")
	ErrSameBody         = errors.New("constraint: link connects an entity to itself")
)

// LinkState is the lifecycle of a link. Broken is terminal.
type LinkState int

const (
	Enabled LinkState = iota
	Disabled
	Broken
)

func (s LinkState) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// ParseLinkState is the inverse of LinkState.String.
func ParseLinkState(s string) LinkState {
	switch s {
	case "disabled":
		return Disabled
	case "broken":
		return Broken
	default:
		return Enabled
	}
}

// Link is a joint or motor between two entities. Every step the system
// calls, in this order:
//
//	Update(t)          relative placement, motion functions
//	GenerateSparsity() Jacobian nonzero count
//	BuildD()           Jacobian rows
//	BuildB(...)        bias, c*clamp(C) + Ct
//	BuildE()           compliance
//	InjectRows(d)      hand the rows to the descriptor
//
// and FetchReactions once the descriptor has been solved.
type Link interface {
	NumRows() int
	State() LinkState
	// IsActive reports whether the link takes part in the coming solve.
	IsActive() bool
	Enable() error
	Disable()

	Update(t float64)
	GenerateSparsity() int
	BuildD()
	BuildB(factor, recoveryClamp float64, doClamp bool)
	BuildE()
	InjectRows(d *solver.Descriptor)
	FetchReactions(factor float64)

	// ConstraintViolation returns C(x) for every row, from the last Update.
	ConstraintViolation() []float64
	// CheckBreak moves the link to Broken when its reaction exceeds the
	// break limit, and reports whether it just broke.
	CheckBreak() bool
	// Variables are the two connected solver blocks.
	Variables() (solver.Variables, solver.Variables)

	ArchiveOut() (LinkArchive, error)
}

// Base carries the lifecycle shared by all links.
type Base struct {
	// BreakForce is the reaction magnitude above which the link breaks.
	// Zero disables breaking.
	BreakForce float64

	state LinkState
}

func (b *Base) State() LinkState { return b.state }

// Enable re-enables a disabled link. A broken link cannot be re-enabled.
func (b *Base) Enable() error {
	if b.state == Broken {
		return ErrBroken
	}
	b.state = Enabled
	return nil
}

func (b *Base) Disable() {
	if b.state != Broken {
		b.state = Disabled
	}
}

func (b *Base) breakIf(reaction float64) bool {
	if b.state == Broken || b.BreakForce <= 0 || !(reaction > b.BreakForce) {
		return false
	}
	b.state = Broken
	return true
}

func (b *Base) enabled() bool { return b.state == Enabled }

// clampBias builds factor*C, clamped to ±recoveryClamp when doClamp is set.
func clampBias(c, factor, recoveryClamp float64, doClamp bool) float64 {
	v := factor * c
	if doClamp {
		v = math.Max(-recoveryClamp, math.Min(recoveryClamp, v))
	}
	return v
}

// ComputeFriction combines two friction coefficients (geometric mean).
func ComputeFriction(a, b float64) float64 {
	return math.Sqrt(a * b)
}

// ComputeCompliance adds the compliances of both materials, springs in
// series.
func ComputeCompliance(matA, matB actor.Material) float64 {
	return matA.Compliance + matB.Compliance
}
