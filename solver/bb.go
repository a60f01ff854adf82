package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	bbMinStep      = 1e-10
	bbMaxStep      = 1e10
	bbMemory       = 10
	bbArmijo       = 1e-4
	bbMaxBacktrack = 10
)

// BBSolver is a projected gradient method with Barzilai-Borwein step
// lengths, alternating the two BB formulas, safeguarded by a non-monotone
// Armijo backtracking on the last few objective values.
type BBSolver struct {
	iterative

	d, nd, ng, best []float64
	history         []float64
}

func NewBB(tolerance float64) *BBSolver {
	return &BBSolver{iterative: iterative{Tolerance: tolerance}}
}

func (s *BBSolver) Solve(n ShurOperator, p Projector, maxIterations, size int, r, gamma []float64) int {
	s.begin(size)
	s.d = resize(s.d, size)
	s.nd = resize(s.nd, size)
	s.ng = resize(s.ng, size)
	s.best = resize(s.best, size)
	s.history = s.history[:0]

	p.Project(gamma)
	n.ShurProduct(s.ng, gamma)
	floats.SubTo(s.g, s.ng, r)
	f := objective(gamma, s.ng, r)

	copy(s.best, gamma)
	bestRes := s.residual(p, gamma, s.g)
	alpha := 1.0 / math.Max(floats.Norm(s.g, math.Inf(1)), 1e-12)

	iter := 0
	for iter < maxIterations && bestRes >= s.Tolerance {
		iter++

		// d = Π(γ - αg) - γ
		floats.AddScaledTo(s.d, gamma, -alpha, s.g)
		p.Project(s.d)
		floats.Sub(s.d, gamma)

		n.ShurProduct(s.nd, s.d)
		gd := floats.Dot(s.g, s.d)
		dNd := floats.Dot(s.d, s.nd)

		s.history = append(s.history, f)
		if len(s.history) > bbMemory {
			s.history = s.history[1:]
		}
		fRef := floats.Max(s.history)

		lambda := 1.0
		for k := 0; k < bbMaxBacktrack; k++ {
			fTrial := f + lambda*gd + 0.5*lambda*lambda*dNd
			if fTrial <= fRef+bbArmijo*lambda*gd {
				break
			}
			lambda *= 0.5
		}

		// γ += λd, g += λNd
		floats.AddScaled(gamma, lambda, s.d)
		floats.AddScaled(s.g, lambda, s.nd)
		f += lambda*gd + 0.5*lambda*lambda*dNd

		sy := lambda * lambda * dNd
		ss := lambda * lambda * floats.Dot(s.d, s.d)
		yy := lambda * lambda * floats.Dot(s.nd, s.nd)
		switch {
		case sy <= 0:
			alpha = bbMaxStep
		case iter%2 == 1:
			alpha = ss / sy
		default:
			alpha = sy / yy
		}
		alpha = math.Min(math.Max(alpha, bbMinStep), bbMaxStep)

		res := s.residual(p, gamma, s.g)
		s.record(res)
		if res < bestRes {
			bestRes = res
			copy(s.best, gamma)
		}
	}

	copy(gamma, s.best)
	n.ShurProduct(s.ng, gamma)
	s.stats.Iterations = iter
	s.stats.Residual = bestRes
	s.stats.Objective = objective(gamma, s.ng, r)
	s.stats.Converged = bestRes < s.Tolerance
	return iter
}
