package solver

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects how many scalar equations each contact contributes. Modes
// are cumulative: Sliding includes the Normal rows, Spinning includes both.
type Mode int

const (
	// ModeBilateral solves equality rows only. Contacts are ignored.
	ModeBilateral Mode = iota
	// ModeNormal adds one non-penetration row per contact.
	ModeNormal
	// ModeSliding adds two tangential friction rows per contact.
	ModeSliding
	// ModeSpinning adds spinning and rolling friction rows per contact.
	ModeSpinning
)

func (m Mode) String() string {
	switch m {
	case ModeBilateral:
		return "bilateral"
	case ModeNormal:
		return "normal"
	case ModeSliding:
		return "sliding"
	case ModeSpinning:
		return "spinning"
	default:
		return "unknown"
	}
}

// ParseMode resolves a mode name such as "sliding".
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m := ModeBilateral; m <= ModeSpinning; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("solver: unknown mode %q", s)
}

// RowsPerContact is the number of scalar equations a contact emits in mode m.
func (m Mode) RowsPerContact() int {
	switch m {
	case ModeNormal:
		return 1
	case ModeSliding:
		return 3
	case ModeSpinning:
		return 6
	default:
		return 0
	}
}

// Row is one scalar constraint equation coupling at most two variable
// blocks:
//
//	JA*vA + JB*vB + Bias >= 0  (or == 0 for a bilateral row)
//
// Gamma is the multiplier, kept between steps for warm starting. Lo and Hi
// bound Gamma: (-Inf, +Inf) is an equality, [0, +Inf) an inequality.
type Row struct {
	A, B       Variables
	JA, JB     []float64
	Bias       float64
	Compliance float64
	Gamma      float64
	Lo, Hi     float64

	stage Mode
}

// NewBilateralRow allocates an equality row between a and b. b may be nil
// for a row acting on a single block.
func NewBilateralRow(a, b Variables) *Row {
	r := &Row{A: a, B: b, Lo: math.Inf(-1), Hi: math.Inf(1)}
	if a != nil {
		r.JA = make([]float64, a.NDOF())
	}
	if b != nil {
		r.JB = make([]float64, b.NDOF())
	}
	return r
}

// NewUnilateralRow allocates a row whose multiplier is kept non-negative.
func NewUnilateralRow(a, b Variables) *Row {
	r := NewBilateralRow(a, b)
	r.Lo = 0
	return r
}

// SetBox bounds the multiplier to [lo, hi].
func (r *Row) SetBox(lo, hi float64) {
	r.Lo, r.Hi = lo, hi
}

// Project clamps Gamma into its box.
func (r *Row) Project() {
	r.Gamma = clamp(r.Gamma, r.Lo, r.Hi)
}

// IsActive reports whether at least one connected block takes part in the
// solve.
func (r *Row) IsActive() bool {
	return (r.A != nil && r.A.IsActive()) || (r.B != nil && r.B.IsActive())
}

func (r *Row) nnz() int {
	return len(r.JA) + len(r.JB)
}

// Cone groups the rows of one frictional contact. Rows beyond the assembly
// mode may be nil.
type Cone struct {
	Normal       *Row
	U, V         *Row
	Spin         *Row
	RollU, RollV *Row

	Friction         float64
	SpinningFriction float64
	RollingFriction  float64
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
