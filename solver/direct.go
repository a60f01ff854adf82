package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DirectSolver forms N column by column and solves Nγ = r with an LU
// factorization, then projects. For problems made only of equality rows the
// result is exact; with inequality rows the projection makes it a heuristic,
// so one of the iterative solvers should be preferred there.
type DirectSolver struct {
	iterative
}

func NewDirect(tolerance float64) *DirectSolver {
	return &DirectSolver{iterative: iterative{Tolerance: tolerance}}
}

func (s *DirectSolver) Solve(n ShurOperator, p Projector, _ int, size int, r, gamma []float64) int {
	s.begin(size)

	dense := mat.NewDense(size, size, nil)
	unit := make([]float64, size)
	col := make([]float64, size)
	for j := 0; j < size; j++ {
		unit[j] = 1
		n.ShurProduct(col, unit)
		dense.SetCol(j, col)
		unit[j] = 0
	}

	// rows held at zero by the projector have an empty right-hand side and
	// may have a singular block; regularize the diagonal so they solve to 0
	for i := 0; i < size; i++ {
		if dense.At(i, i) == 0 {
			dense.Set(i, i, 1)
		}
	}

	var lu mat.LU
	lu.Factorize(dense)

	x := mat.NewVecDense(size, nil)
	if err := lu.SolveVecTo(x, false, mat.NewVecDense(size, r)); err != nil && !isConditionWarning(err) {
		// singular system: keep the warm start
		s.stats.Iterations = 1
		s.stats.Residual = math.Inf(1)
		return 1
	}
	copy(gamma, x.RawVector().Data)
	p.Project(gamma)

	gradient(n, s.g, gamma, r)
	res := s.residual(p, gamma, s.g)
	s.record(res)
	s.stats.Iterations = 1
	s.stats.Objective = 0.5 * (floats.Dot(gamma, s.g) - floats.Dot(gamma, r))
	s.stats.Converged = res < s.Tolerance
	return 1
}

// isConditionWarning reports whether err only flags an ill-conditioned but
// solved system.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
