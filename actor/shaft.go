package actor

import (
	"fmt"
	"math"

	"github.com/akmonengine/linkage/solver"
	"github.com/akmonengine/linkage/state"
)

// Shaft is a one degree of freedom rotating element: an angle, its speed
// and acceleration, and a scalar inertia.
type Shaft struct {
	state.Block
	sleeper

	Pos   float64 // rad
	Speed float64 // rad/s
	Accel float64 // rad/s², backward difference estimate

	// MaxSpeed bounds |Speed| when LimitSpeed is set.
	MaxSpeed float64

	fixed       bool
	limitSpeed  bool
	useSleeping bool
	inertia     float64
	torque      float64
	time        float64

	variables solver.ShaftVariables
}

// NewShaft creates a free shaft. The inertia must be strictly positive.
func NewShaft(inertia float64) (*Shaft, error) {
	s := &Shaft{MaxSpeed: 10}
	s.SleepParams = DefaultSleepParams()
	if err := s.SetInertia(inertia); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shaft) Inertia() float64 { return s.inertia }

func (s *Shaft) SetInertia(j float64) error {
	if !(j > 0) || math.IsInf(j, 0) {
		return fmt.Errorf("%w: shaft inertia %v", ErrInvalidInertia, j)
	}
	s.inertia = j
	s.variables.SetInertia(j)
	return nil
}

func (s *Shaft) Variables() *solver.ShaftVariables { return &s.variables }

func (s *Shaft) SetOffsets(offX, offW int) {
	s.Block.SetOffsets(offX, offW)
	s.variables.SetOffset(offW)
}

func (s *Shaft) IsFixed() bool { return s.fixed }

func (s *Shaft) SetFixed(fixed bool) {
	s.fixed = fixed
	if fixed {
		s.Speed = 0
		s.Accel = 0
	}
	s.variables.SetDisabled(!s.IsActive())
}

func (s *Shaft) SetLimitSpeed(on bool) { s.limitSpeed = on }

func (s *Shaft) SetUseSleeping(on bool) {
	s.useSleeping = on
	if !on {
		s.Awake()
	}
}

func (s *Shaft) IsActive() bool { return !s.fixed && !s.IsSleeping() }

// AppliedTorque is the external torque loaded every step.
func (s *Shaft) AppliedTorque() float64 { return s.torque }

// SetAppliedTorque sets the external torque. A non-zero torque wakes the
// shaft.
func (s *Shaft) SetAppliedTorque(torque float64) {
	s.torque = torque
	if torque != 0 {
		s.Awake()
	}
}

func (s *Shaft) Time() float64 { return s.time }

func (s *Shaft) Update(t float64) {
	s.time = t
	s.variables.SetDisabled(!s.IsActive())
}

func (s *Shaft) ClampSpeed() {
	if s.limitSpeed && math.Abs(s.Speed) > s.MaxSpeed {
		s.Speed = math.Copysign(s.MaxSpeed, s.Speed)
	}
}

// TrySleeping mirrors RigidBody.TrySleeping, the speed being compared with
// the angular threshold.
func (s *Shaft) TrySleeping(dt float64) bool {
	if !s.useSleeping || s.fixed {
		return false
	}
	return s.observe(dt, 0, math.Abs(s.Speed))
}

func (s *Shaft) Sleep() {
	s.sleep()
	s.Speed = 0
	s.variables.SetDisabled(true)
}

func (s *Shaft) Awake() {
	s.wake()
	s.variables.SetDisabled(!s.IsActive())
}

func (s *Shaft) KineticEnergy() float64 {
	return 0.5 * s.inertia * s.Speed * s.Speed
}

// ===== state vector protocol =====

func (s *Shaft) NumCoordsPos() int { return 1 }
func (s *Shaft) NumCoordsVel() int { return 1 }

func (s *Shaft) StateGather(offX int, x state.State, offV int, v state.StateDelta) float64 {
	x[offX] = s.Pos
	v[offV] = s.Speed
	return s.time
}

func (s *Shaft) StateScatter(offX int, x state.State, offV int, v state.StateDelta, t float64, fullUpdate bool) {
	s.Pos = x[offX]
	s.Speed = v[offV]
	s.time = t
	if fullUpdate {
		s.Update(t)
	}
}

func (s *Shaft) StateGatherAcceleration(offA int, a state.StateDelta)  { a[offA] = s.Accel }
func (s *Shaft) StateScatterAcceleration(offA int, a state.StateDelta) { s.Accel = a[offA] }

func (s *Shaft) StateIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	xNew[offX] = x[offX] + dv[offV]
}

func (s *Shaft) StateGetIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	dv[offV] = xNew[offX] - x[offX]
}

func (s *Shaft) LoadResidualF(offV int, r state.StateDelta, c float64) {
	if s.fixed {
		return
	}
	r[offV] += c * s.torque
}

func (s *Shaft) LoadResidualMv(offV int, r state.StateDelta, w state.StateDelta, c float64) {
	r[offV] += c * s.inertia * w[offV]
}

func (s *Shaft) LoadLumpedMass(offV int, md state.StateDelta, c float64) float64 {
	md[offV] += c * s.inertia
	return 0
}

func (s *Shaft) VariablesQbSetSpeed(v state.StateDelta, dt float64) {
	if !s.IsActive() {
		return
	}
	old := s.Speed
	s.Speed = v[s.OffsetW()]
	if dt > 0 {
		s.Accel = (s.Speed - old) / dt
	}
	s.ClampSpeed()
}

func (s *Shaft) VariablesQbIncrementPosition(dt float64) {
	if !s.IsActive() {
		return
	}
	s.Pos += s.Speed * dt
}

// ShaftArchive is the persistent form of a Shaft.
type ShaftArchive struct {
	Pos         float64     `yaml:"pos"`
	Speed       float64     `yaml:"speed"`
	Inertia     float64     `yaml:"inertia"`
	Torque      float64     `yaml:"torque,omitempty"`
	Fixed       bool        `yaml:"fixed"`
	LimitSpeed  bool        `yaml:"limit_speed"`
	MaxSpeed    float64     `yaml:"max_speed"`
	UseSleeping bool        `yaml:"use_sleeping"`
	Sleep       SleepParams `yaml:"sleep"`
}

func (s *Shaft) ArchiveOut() ShaftArchive {
	return ShaftArchive{
		Pos:         s.Pos,
		Speed:       s.Speed,
		Inertia:     s.inertia,
		Torque:      s.torque,
		Fixed:       s.fixed,
		LimitSpeed:  s.limitSpeed,
		MaxSpeed:    s.MaxSpeed,
		UseSleeping: s.useSleeping,
		Sleep:       s.SleepParams,
	}
}

func (s *Shaft) ArchiveIn(a ShaftArchive) error {
	if err := s.SetInertia(a.Inertia); err != nil {
		return err
	}
	s.Pos = a.Pos
	s.Speed = a.Speed
	s.torque = a.Torque
	s.fixed = a.Fixed
	s.limitSpeed = a.LimitSpeed
	s.MaxSpeed = a.MaxSpeed
	s.useSleeping = a.UseSleeping
	s.SleepParams = a.Sleep
	s.wake()
	s.Update(s.time)
	return nil
}
