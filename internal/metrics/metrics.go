package metrics

import (
	"math"

	"github.com/akmonengine/linkage"
)

// Metric observes a system after every step and reduces the observations
// to a single value.
type Metric interface {
	Name() string
	Observe(s *linkage.System)
	Value() float64
	Reset()
}

// Defaults returns one instance of every metric.
func Defaults() []Metric {
	return []Metric{
		NewKineticEnergy(),
		NewEnergyDrift(),
		NewMaxViolation(),
		NewSolverIterations(),
		NewConvergence(),
		NewSleepingBodies(),
	}
}

// KineticEnergy is the mean kinetic energy over the observed steps.
type KineticEnergy struct {
	name    string
	samples int
	total   float64
}

func NewKineticEnergy() *KineticEnergy {
	return &KineticEnergy{name: "kinetic_energy"}
}

func (e *KineticEnergy) Name() string { return e.name }

func (e *KineticEnergy) Observe(s *linkage.System) {
	e.total += s.KineticEnergy()
	e.samples++
}

func (e *KineticEnergy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.total / float64(e.samples)
}

func (e *KineticEnergy) Reset() {
	e.total = 0
	e.samples = 0
}

// EnergyDrift is the largest relative change of the kinetic energy from
// the first observation. It stays 0 while the first observation is 0.
type EnergyDrift struct {
	name     string
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(s *linkage.System) {
	energy := s.KineticEnergy()
	if e.samples == 0 {
		e.initial = energy
	}
	e.samples++

	if e.initial != 0 {
		drift := math.Abs(energy-e.initial) / math.Abs(e.initial)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() {
	e.initial = 0
	e.maxDrift = 0
	e.samples = 0
}

// MaxViolation is the worst constraint violation seen over the run.
type MaxViolation struct {
	name  string
	worst float64
}

func NewMaxViolation() *MaxViolation {
	return &MaxViolation{name: "max_violation"}
}

func (v *MaxViolation) Name() string { return v.name }

func (v *MaxViolation) Observe(s *linkage.System) {
	v.worst = math.Max(v.worst, s.MaxViolation())
}

func (v *MaxViolation) Value() float64 { return v.worst }

func (v *MaxViolation) Reset() { v.worst = 0 }

// SolverIterations is the mean number of solver iterations per step.
type SolverIterations struct {
	name    string
	samples int
	total   int
}

func NewSolverIterations() *SolverIterations {
	return &SolverIterations{name: "solver_iterations"}
}

func (it *SolverIterations) Name() string { return it.name }

func (it *SolverIterations) Observe(s *linkage.System) {
	it.total += s.Report().Iterations()
	it.samples++
}

func (it *SolverIterations) Value() float64 {
	if it.samples == 0 {
		return 0
	}
	return float64(it.total) / float64(it.samples)
}

func (it *SolverIterations) Reset() {
	it.total = 0
	it.samples = 0
}

// Convergence is the fraction of steps whose solve converged.
type Convergence struct {
	name     string
	failures int
	samples  int
}

func NewConvergence() *Convergence {
	return &Convergence{name: "convergence"}
}

func (c *Convergence) Name() string { return c.name }

func (c *Convergence) Observe(s *linkage.System) {
	c.samples++
	if !s.Report().Converged() {
		c.failures++
	}
}

func (c *Convergence) Value() float64 {
	if c.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(c.failures)/float64(c.samples)
}

func (c *Convergence) Reset() {
	c.failures = 0
	c.samples = 0
}

// SleepingBodies is the number of sleeping bodies and shafts at the last
// observation.
type SleepingBodies struct {
	name  string
	count int
}

func NewSleepingBodies() *SleepingBodies {
	return &SleepingBodies{name: "sleeping_bodies"}
}

func (sb *SleepingBodies) Name() string { return sb.name }

func (sb *SleepingBodies) Observe(s *linkage.System) { sb.count = s.SleepingCount() }

func (sb *SleepingBodies) Value() float64 { return float64(sb.count) }

func (sb *SleepingBodies) Reset() { sb.count = 0 }
