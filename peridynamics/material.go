package peridynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// VonMises is an isotropic elasto-plastic continuum with a von Mises yield
// criterion on the elastic strain.
type VonMises struct {
	YoungModulus float64 `yaml:"young_modulus"`
	PoissonRatio float64 `yaml:"poisson_ratio"`
	Density      float64 `yaml:"density"`
	// ElasticYield is the equivalent strain at which plastic flow starts.
	ElasticYield float64 `yaml:"elastic_yield"`
	// FlowRate is the inverse of the plastic relaxation time, 1/s.
	FlowRate float64 `yaml:"flow_rate"`
}

func DefaultVonMises() VonMises {
	return VonMises{
		YoungModulus: 1e7,
		PoissonRatio: 0.3,
		Density:      1000,
		ElasticYield: 0.07,
		FlowRate:     1,
	}
}

// Lame returns the two Lamé parameters (λ, μ).
func (m VonMises) Lame() (lambda, mu float64) {
	e, nu := m.YoungModulus, m.PoissonRatio
	lambda = e * nu / ((1 + nu) * (1 - 2*nu))
	mu = e / (2 * (1 + nu))
	return lambda, mu
}

// ElasticStress is σ = λ·tr(ε)·I + 2μ·ε.
func (m VonMises) ElasticStress(strain mgl64.Mat3) mgl64.Mat3 {
	lambda, mu := m.Lame()
	tr := strain.Trace()
	return strain.Mul(2 * mu).Add(mgl64.Diag3(mgl64.Vec3{lambda * tr, lambda * tr, lambda * tr}))
}

// ReturnMapping projects the trial elastic strain elastic+increment back
// onto the yield surface and returns the plastic flow, the correction to
// subtract from it. Inside the yield surface the flow is zero.
func (m VonMises) ReturnMapping(increment, elastic mgl64.Mat3) mgl64.Mat3 {
	trial := elastic.Add(increment)
	vm := EquivalentVonMises(trial)
	if !(vm > m.ElasticYield) {
		return mgl64.Mat3{}
	}
	return Deviatoric(trial).Mul((vm - m.ElasticYield) / vm)
}

// EquivalentVonMises is the scalar von Mises measure of a symmetric tensor.
func EquivalentVonMises(t mgl64.Mat3) float64 {
	xx, yy, zz := t.At(0, 0), t.At(1, 1), t.At(2, 2)
	xy, yz, xz := t.At(0, 1), t.At(1, 2), t.At(0, 2)
	return math.Sqrt(0.5*((xx-yy)*(xx-yy)+(yy-zz)*(yy-zz)+(zz-xx)*(zz-xx)) + 3*(xy*xy+yz*yz+xz*xz))
}

// Deviatoric removes the hydrostatic part of t.
func Deviatoric(t mgl64.Mat3) mgl64.Mat3 {
	p := t.Trace() / 3
	return t.Sub(mgl64.Diag3(mgl64.Vec3{p, p, p}))
}
