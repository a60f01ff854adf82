// Package solver assembles the per-step complementarity problem of a
// constrained multibody system and solves it with a pluggable iterative
// method.
package solver

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrUnknownType  = errors.New("solver: unknown solver type")
	ErrNotConverged = errors.New("solver: not converged within max iterations")
)

// ShurOperator applies N = D*M⁻¹*Dᵀ + E to a multiplier vector.
type ShurOperator interface {
	ShurProduct(dst, gamma []float64)
}

// Projector projects a multiplier vector onto the feasible set in place.
type Projector interface {
	Project(gamma []float64)
}

// IterativeSolver minimizes ½γᵀNγ - γᵀr over the feasible set. gamma holds
// the warm start on entry and the best multiplier found on return. The
// number of iterations used is returned; running out of iterations is not an
// error.
type IterativeSolver interface {
	Solve(n ShurOperator, p Projector, maxIterations, size int, r, gamma []float64) int
	Stats() Stats
}

// Stats reports the outcome of the last Solve.
type Stats struct {
	Iterations int
	Residual   float64
	Objective  float64
	Converged  bool
	History    []float64
}

// Type tags the available solvers.
type Type int

const (
	APGD Type = iota
	APGDRef
	BB
	SPGQP
	// Direct factorizes the dense Schur complement. It is exact for
	// equality rows and only approximate once inequality rows are present.
	Direct
)

var typeNames = map[Type]string{
	APGD:    "apgd",
	APGDRef: "apgdref",
	BB:      "bb",
	SPGQP:   "spgqp",
	Direct:  "direct",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType resolves a solver name such as "apgd" or "spgqp".
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// New creates a solver of type t.
func New(t Type, tolerance float64) (IterativeSolver, error) {
	switch t {
	case APGD:
		return NewAPGD(tolerance), nil
	case APGDRef:
		return NewAPGDRef(tolerance), nil
	case BB:
		return NewBB(tolerance), nil
	case SPGQP:
		return NewSPGQP(tolerance), nil
	case Direct:
		return NewDirect(tolerance), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
	}
}

// iterative holds the bookkeeping shared by the projected-gradient solvers.
type iterative struct {
	Tolerance     float64
	RecordHistory bool

	stats Stats
	size  int

	g, x, tmp []float64
}

func (s *iterative) Stats() Stats { return s.stats }

func (s *iterative) begin(size int) {
	s.size = size
	s.stats = Stats{}
	s.g = resize(s.g, size)
	s.x = resize(s.x, size)
	s.tmp = resize(s.tmp, size)
}

func (s *iterative) record(res float64) {
	s.stats.Residual = res
	if s.RecordHistory {
		s.stats.History = append(s.stats.History, res)
	}
}

// residual measures how far gamma is from a fixed point of the projected
// gradient step:
//
//	‖(γ - Π(γ - h∇f(γ)))/h‖,  ∇f(γ) = Nγ - r
//
// grad must already hold Nγ - r.
func (s *iterative) residual(p Projector, gamma, grad []float64) float64 {
	h := 1.0 / math.Max(1, float64(s.size*s.size))
	floats.AddScaledTo(s.tmp, gamma, -h, grad)
	p.Project(s.tmp)
	floats.Sub(s.tmp, gamma)
	return floats.Norm(s.tmp, 2) / h
}

// objective returns ½γᵀNγ - γᵀr given nGamma = Nγ.
func objective(gamma, nGamma, r []float64) float64 {
	return 0.5*floats.Dot(gamma, nGamma) - floats.Dot(gamma, r)
}

// gradient writes Nγ - r into dst.
func gradient(n ShurOperator, dst, gamma, r []float64) {
	n.ShurProduct(dst, gamma)
	floats.Sub(dst, r)
}
