package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// APGDSolver is Nesterov's accelerated projected gradient descent with
// backtracking on the Lipschitz estimate and adaptive restart. The reference
// variant keeps the step length from shrinking back after each iteration,
// which is slower but follows the textbook method exactly.
type APGDSolver struct {
	iterative
	reference bool

	y, xNew, ny, nx, best []float64
}

func NewAPGD(tolerance float64) *APGDSolver {
	return &APGDSolver{iterative: iterative{Tolerance: tolerance}}
}

func NewAPGDRef(tolerance float64) *APGDSolver {
	return &APGDSolver{iterative: iterative{Tolerance: tolerance}, reference: true}
}

// lipschitz estimates ‖N‖ from a perturbed copy of gamma.
func (s *APGDSolver) lipschitz(n ShurOperator, gamma []float64) float64 {
	for i := range s.tmp {
		s.tmp[i] = gamma[i] - 1
	}
	n.ShurProduct(s.ny, gamma)
	n.ShurProduct(s.nx, s.tmp)
	floats.Sub(s.ny, s.nx)
	floats.SubTo(s.tmp, gamma, s.tmp)

	l := floats.Norm(s.ny, 2) / floats.Norm(s.tmp, 2)
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return 1
	}
	return l
}

func (s *APGDSolver) Solve(n ShurOperator, p Projector, maxIterations, size int, r, gamma []float64) int {
	s.begin(size)
	s.y = resize(s.y, size)
	s.xNew = resize(s.xNew, size)
	s.ny = resize(s.ny, size)
	s.nx = resize(s.nx, size)
	s.best = resize(s.best, size)

	p.Project(gamma)
	l := s.lipschitz(n, gamma)
	t := 1 / l
	theta := 1.0

	copy(s.x, gamma)
	copy(s.y, gamma)
	copy(s.best, gamma)
	bestRes := math.Inf(1)

	iter := 0
	for iter < maxIterations {
		iter++

		// g = Ny - r, f(y) = ½yᵀ(g - r)
		gradient(n, s.g, s.y, r)
		fy := 0.5 * (floats.Dot(s.y, s.g) - floats.Dot(s.y, r))

		floats.AddScaledTo(s.xNew, s.y, -t, s.g)
		p.Project(s.xNew)

		for {
			n.ShurProduct(s.nx, s.xNew)
			fx := objective(s.xNew, s.nx, r)

			floats.SubTo(s.tmp, s.xNew, s.y)
			bound := fy + floats.Dot(s.g, s.tmp) + 0.5*l*floats.Dot(s.tmp, s.tmp)
			if fx <= bound || l > 1e30 {
				break
			}
			l *= 2
			t = 1 / l
			floats.AddScaledTo(s.xNew, s.y, -t, s.g)
			p.Project(s.xNew)
		}

		thetaNew := (-theta*theta + theta*math.Sqrt(theta*theta+4)) / 2
		beta := theta * (1 - theta) / (theta*theta + thetaNew)

		// y = xNew + beta*(xNew - x)
		floats.SubTo(s.tmp, s.xNew, s.x)
		floats.AddScaledTo(s.y, s.xNew, beta, s.tmp)

		// restart when momentum points uphill
		if floats.Dot(s.g, s.tmp) > 0 {
			copy(s.y, s.xNew)
			thetaNew = 1
		}

		// residual at xNew, reusing nx = N*xNew
		floats.SubTo(s.ny, s.nx, r)
		res := s.residual(p, s.xNew, s.ny)
		s.record(res)
		if res < bestRes {
			bestRes = res
			copy(s.best, s.xNew)
		}

		if !s.reference {
			l *= 0.9
			t = 1 / l
		}
		theta = thetaNew
		copy(s.x, s.xNew)

		if res < s.Tolerance {
			break
		}
	}

	copy(gamma, s.best)
	gradient(n, s.g, gamma, r)
	s.stats.Iterations = iter
	s.stats.Residual = bestRes
	s.stats.Objective = 0.5 * (floats.Dot(gamma, s.g) - floats.Dot(gamma, r))
	s.stats.Converged = bestRes < s.Tolerance
	return iter
}
