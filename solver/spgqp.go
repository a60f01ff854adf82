package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SPGQPSolver is the spectral projected gradient method specialised to
// quadratic programs: the non-monotone line search is solved in closed form
// along the projected direction instead of by backtracking.
type SPGQPSolver struct {
	iterative

	// Memory is the number of past objective values the line search
	// compares against.
	Memory int
	// Sigma is the sufficient decrease parameter, in (0, 1). At 0.5 the
	// monotone step is the exact minimizer along the search direction.
	Sigma float64

	d, nd, ng, best []float64
	history         []float64
}

func NewSPGQP(tolerance float64) *SPGQPSolver {
	return &SPGQPSolver{
		iterative: iterative{Tolerance: tolerance},
		Memory:    5,
		Sigma:     0.5,
	}
}

func (s *SPGQPSolver) Solve(n ShurOperator, p Projector, maxIterations, size int, r, gamma []float64) int {
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

	// first step length from the Rayleigh quotient of the gradient
	n.ShurProduct(s.nd, s.g)
	alpha := 1.0
	if gNg := floats.Dot(s.g, s.nd); gNg > 0 {
		alpha = floats.Dot(s.g, s.g) / gNg
	}

	iter := 0
	for iter < maxIterations && bestRes >= s.Tolerance {
		iter++

		s.history = append(s.history, f)
		if len(s.history) > s.Memory {
			s.history = s.history[1:]
		}
		fRef := floats.Max(s.history)

		floats.AddScaledTo(s.d, gamma, -alpha, s.g)
		p.Project(s.d)
		floats.Sub(s.d, gamma)

		n.ShurProduct(s.nd, s.d)
		gd := floats.Dot(s.g, s.d)
		dNd := floats.Dot(s.d, s.nd)
		if gd >= 0 {
			// stationary along the projected direction
			break
		}

		// largest β in (0, 1] with f(γ+βd) <= fRef + σβ gᵀd
		beta := 1.0
		if dNd > 0 {
			c := 1 - s.Sigma
			xi := (fRef - f) / dNd
			betaBar := -gd / dNd
			beta = math.Min(1, c*betaBar+math.Sqrt(c*c*betaBar*betaBar+2*xi))
		}

		floats.AddScaled(gamma, beta, s.d)
		floats.AddScaled(s.g, beta, s.nd)
		f += beta*gd + 0.5*beta*beta*dNd

		if dNd > 0 {
			alpha = floats.Dot(s.d, s.d) / dNd
		} else {
			alpha = bbMaxStep
		}

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
